package docstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/soyeahso/querydesk/internal/domain"
)

// Period buckets for CountPerPeriod.
const (
	BucketYear   = "year"
	BucketDecade = "decade"
)

// MoviesByGenre returns movies listing genre among their genres.
func (s *Service) MoviesByGenre(ctx context.Context, genre string, limit int) ([]domain.Movie, string, error) {
	if strings.TrimSpace(genre) == "" {
		return nil, "", fmt.Errorf("%w: genre is required", ErrInvalidArgument)
	}
	q, err := s.Find(ctx, bson.D{{Key: "genres", Value: genre}}, bson.D{{Key: "title", Value: 1}}, limit)
	return toMovies(q.Documents), q.Pipeline, err
}

// MoviesByYear returns movies released in year, whatever type the year is
// stored as.
func (s *Service) MoviesByYear(ctx context.Context, year, limit int) ([]domain.Movie, string, error) {
	q, err := s.Find(ctx, bson.D{{Key: "year", Value: year}}, bson.D{{Key: "title", Value: 1}}, limit)
	return toMovies(q.Documents), q.Pipeline, err
}

// MoviesByYearRange returns movies released between from and to inclusive.
func (s *Service) MoviesByYearRange(ctx context.Context, from, to, limit int) ([]domain.Movie, string, error) {
	if from > to {
		return nil, "", fmt.Errorf("%w: start year %d is after end year %d", ErrInvalidArgument, from, to)
	}
	q, err := s.ByFieldRange(ctx, "year", from, to, limit)
	return toMovies(q.Documents), q.Pipeline, err
}

// MoviesByGenreAndYear combines the genre and year filters.
func (s *Service) MoviesByGenreAndYear(ctx context.Context, genre string, year, limit int) ([]domain.Movie, string, error) {
	if strings.TrimSpace(genre) == "" {
		return nil, "", fmt.Errorf("%w: genre is required", ErrInvalidArgument)
	}
	filter := bson.D{{Key: "genres", Value: genre}, {Key: "year", Value: year}}
	q, err := s.Find(ctx, filter, bson.D{{Key: "title", Value: 1}}, limit)
	return toMovies(q.Documents), q.Pipeline, err
}

// CountPerPeriod counts movies per year or per decade within [from, to].
// Decade keys are the first year of the decade.
func (s *Service) CountPerPeriod(ctx context.Context, from, to int, bucket string) ([]domain.GroupCount, string, error) {
	if bucket == "" {
		bucket = BucketYear
	}
	if bucket != BucketYear && bucket != BucketDecade {
		return nil, "", fmt.Errorf("%w: bucket must be %q or %q", ErrInvalidArgument, BucketYear, BucketDecade)
	}
	if from > to {
		return nil, "", fmt.Errorf("%w: start year %d is after end year %d", ErrInvalidArgument, from, to)
	}

	filter := bson.D{{Key: "year", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lte", Value: to}}}}
	counts, desc, err := s.CountGroupedByField(ctx, "year", filter)
	if err != nil || bucket == BucketYear {
		return counts, desc, err
	}

	decades := map[int]int{}
	for _, c := range counts {
		y, ok := c.Key.(int)
		if !ok {
			continue
		}
		decades[y-y%10] += c.Count
	}
	out := make([]domain.GroupCount, 0, len(decades))
	for d, n := range decades {
		out = append(out, domain.GroupCount{Key: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.(int) < out[j].Key.(int) })
	return out, desc, nil
}

func toMovies(docs []map[string]any) []domain.Movie {
	out := make([]domain.Movie, 0, len(docs))
	for _, d := range docs {
		m := domain.Movie{
			Title:     str(d["title"]),
			Year:      yearOf(d["year"]),
			Genres:    strs(d["genres"]),
			Directors: strs(d["directors"]),
		}
		m.ID = str(d["_id"])
		if n, ok := toFloat(d["runtime"]); ok {
			m.Runtime = int(n)
		}
		if r, ok := lookup(d, "imdb.rating"); ok {
			m.Rating, _ = toFloat(r)
		}
		out = append(out, m)
	}
	return out
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func strs(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		out = append(out, str(item))
	}
	return out
}

// yearOf reads a year stored as a number or as text that starts with one.
func yearOf(v any) int {
	if n, ok := toFloat(v); ok {
		return int(n)
	}
	s, ok := v.(string)
	if !ok {
		return 0
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}
