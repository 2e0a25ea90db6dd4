package tools

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/soyeahso/querydesk/internal/docstore"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/tool"
)

// DocumentTools returns mongo_query and, when fixedShape is set, the
// narrow movie lookups.
func DocumentTools(svc *docstore.Service, fixedShape bool) []tool.Tool {
	out := []tool.Tool{MongoQuery(svc)}
	if fixedShape {
		out = append(out,
			moviesByGenre(svc),
			moviesByYear(svc),
			moviesByYearRange(svc),
			moviesByGenreAndYear(svc),
			movieCountPerPeriod(svc),
		)
	}
	return out
}

type mongoQueryArgs struct {
	Operation string `json:"operation"`
	Filter    any    `json:"filter"`
	Sort      any    `json:"sort"`
	Pipeline  any    `json:"pipeline"`
	Limit     int    `json:"limit"`
}

// MongoQuery is the generic document tool: find, aggregate or count
// against the configured collection.
func MongoQuery(svc *docstore.Service) tool.Tool {
	desc := fmt.Sprintf("Query the %q document collection. Use operation \"find\" with a filter "+
		"(and optional sort) to list documents, \"count\" with a filter to count them, and "+
		"\"aggregate\" with a pipeline for grouping, projections or computed values. Filters and "+
		"pipelines use MongoDB syntax as JSON. Results are capped at %d documents.",
		svc.Collection(), svc.MaxLimit())
	if fields := svc.NormalizedFields(); len(fields) > 0 {
		desc += fmt.Sprintf(" The fields %s may be stored as text or numbers; compare them as numbers.",
			strings.Join(fields, ", "))
	}

	return &tool.Func{
		ToolName:        "mongo_query",
		ToolDescription: desc,
		Schema: tool.Schema(
			tool.Param{Name: "operation", Type: "string", Required: true, Enum: []string{"find", "aggregate", "count"}},
			tool.Param{Name: "filter", Type: "string", Description: `Filter document as JSON, e.g. {"year": {"$gte": 2000}}. Used by find and count.`},
			tool.Param{Name: "sort", Type: "string", Description: `Sort document as JSON, e.g. {"year": -1, "title": 1}. Used by find.`},
			tool.Param{Name: "pipeline", Type: "string", Description: `Aggregation pipeline as a JSON array of stages. Required for aggregate.`},
			limitParam("limit"),
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a mongoQueryArgs
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}

			switch strings.ToLower(strings.TrimSpace(a.Operation)) {
			case "find":
				filter, sort, err := filterAndSort(a.Filter, a.Sort)
				if err != nil {
					return failure(err)
				}
				q, err := svc.Find(ctx, filter, sort, a.Limit)
				return documentsResult(q, err)

			case "aggregate":
				pipeline, err := parsePipeline(a.Pipeline)
				if err != nil {
					return failure(err)
				}
				q, err := svc.Aggregate(ctx, pipeline)
				return documentsResult(q, err)

			case "count":
				filter, err := parseDocument(a.Filter)
				if err != nil {
					return failure(err)
				}
				n, query, err := svc.Count(ctx, filter)
				if err != nil {
					return failure(err).WithQuery(query)
				}
				return domain.NewSuccess(domain.KindCounts, domain.CountsPayload{
					Counts: []domain.GroupCount{{Key: "count", Count: n}},
				}, query, n)

			default:
				return domain.NewFailure(fmt.Sprintf("operation must be one of find, aggregate, count; got %q", a.Operation))
			}
		},
	}
}

func documentsResult(q docstore.Query, err error) domain.ToolResult {
	if err != nil {
		return failure(err).WithQuery(q.Pipeline)
	}
	return domain.NewSuccess(domain.KindDocuments, domain.DocumentsPayload{Documents: q.Documents}, q.Pipeline, len(q.Documents))
}

func parseDocument(v any) (bson.D, error) {
	raw, err := docstore.ToJSON(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	}
	return docstore.ParseFilter(raw)
}

func parsePipeline(v any) ([]bson.D, error) {
	raw, err := docstore.ToJSON(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	}
	return docstore.ParsePipeline(raw)
}

func filterAndSort(filter, sort any) (bson.D, bson.D, error) {
	f, err := parseDocument(filter)
	if err != nil {
		return nil, nil, err
	}
	s, err := parseDocument(sort)
	if err != nil {
		return nil, nil, fmt.Errorf("sort: %w", err)
	}
	return f, s, nil
}

func moviesResult(movies []domain.Movie, query string, err error) domain.ToolResult {
	if err != nil {
		return failure(err).WithQuery(query)
	}
	return domain.NewSuccess(domain.KindRecords, domain.RecordsPayload{Records: movies}, query, len(movies))
}

func moviesByGenre(svc *docstore.Service) tool.Tool {
	return &tool.Func{
		ToolName:        "movies_by_genre",
		ToolDescription: "List movies of one genre, ordered by title. Use when the question names a genre and nothing else.",
		Schema: tool.Schema(
			tool.Param{Name: "genre", Type: "string", Required: true, Description: "Genre name, e.g. Drama."},
			limitParam("limit"),
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				Genre string `json:"genre"`
				Limit int    `json:"limit"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			return moviesResult(svc.MoviesByGenre(ctx, a.Genre, a.Limit))
		},
	}
}

func moviesByYear(svc *docstore.Service) tool.Tool {
	return &tool.Func{
		ToolName:        "movies_by_year",
		ToolDescription: "List movies released in a single year. Use when the question names exactly one year.",
		Schema: tool.Schema(
			tool.Param{Name: "year", Type: "integer", Required: true},
			limitParam("limit"),
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				Year  int `json:"year"`
				Limit int `json:"limit"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			if a.Year <= 0 {
				return domain.NewFailure("year is required")
			}
			return moviesResult(svc.MoviesByYear(ctx, a.Year, a.Limit))
		},
	}
}

func moviesByYearRange(svc *docstore.Service) tool.Tool {
	return &tool.Func{
		ToolName:        "movies_by_year_range",
		ToolDescription: "List movies released between two years inclusive, ordered by year. Use for decades or spans of years.",
		Schema: tool.Schema(
			tool.Param{Name: "from", Type: "integer", Required: true, Description: "First year."},
			tool.Param{Name: "to", Type: "integer", Required: true, Description: "Last year."},
			limitParam("limit"),
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				From  int `json:"from"`
				To    int `json:"to"`
				Limit int `json:"limit"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			return moviesResult(svc.MoviesByYearRange(ctx, a.From, a.To, a.Limit))
		},
	}
}

func moviesByGenreAndYear(svc *docstore.Service) tool.Tool {
	return &tool.Func{
		ToolName:        "movies_by_genre_and_year",
		ToolDescription: "List movies of one genre released in one year. Use when the question names both.",
		Schema: tool.Schema(
			tool.Param{Name: "genre", Type: "string", Required: true},
			tool.Param{Name: "year", Type: "integer", Required: true},
			limitParam("limit"),
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				Genre string `json:"genre"`
				Year  int    `json:"year"`
				Limit int    `json:"limit"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			if a.Year <= 0 {
				return domain.NewFailure("year is required")
			}
			return moviesResult(svc.MoviesByGenreAndYear(ctx, a.Genre, a.Year, a.Limit))
		},
	}
}

func movieCountPerPeriod(svc *docstore.Service) tool.Tool {
	return &tool.Func{
		ToolName:        "movie_count_per_period",
		ToolDescription: "Count movies per year or per decade between two years. Use for trends and distributions over time.",
		Schema: tool.Schema(
			tool.Param{Name: "from", Type: "integer", Required: true},
			tool.Param{Name: "to", Type: "integer", Required: true},
			tool.Param{Name: "bucket", Type: "string", Enum: []string{docstore.BucketYear, docstore.BucketDecade}, Description: "Defaults to year."},
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				From   int    `json:"from"`
				To     int    `json:"to"`
				Bucket string `json:"bucket"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			counts, query, err := svc.CountPerPeriod(ctx, a.From, a.To, a.Bucket)
			if err != nil {
				return failure(err).WithQuery(query)
			}
			field := a.Bucket
			if field == "" {
				field = docstore.BucketYear
			}
			total := 0
			for _, c := range counts {
				total += c.Count
			}
			return domain.NewSuccess(domain.KindCounts, domain.CountsPayload{Field: field, Counts: counts}, query, total)
		},
	}
}
