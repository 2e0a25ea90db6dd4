package docstore

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/logging"
)

// UnknownSentinel is the shadow value of a normalized field whose stored
// value is missing or not numeric.
const UnknownSentinel = -1

// ShadowSuffix is appended to a normalized field's name to form its shadow.
const ShadowSuffix = "_norm"

// Options configure a Service.
type Options struct {
	Collection       string
	NormalizedFields []string
	MaxLimit         int
}

// Query is the result of one read: documents in output form and the
// pipeline that produced them.
type Query struct {
	Documents []map[string]any
	Pipeline  string
}

// Service performs reads against one collection. Filters, sorts and
// groupings that reference a normalized field are rewritten to use its
// shadow field, so mixed storage types never split results.
type Service struct {
	backend Backend
	opts    Options
	log     *logging.Logger
}

// NewService builds a service over backend.
func NewService(backend Backend, opts Options, log *logging.Logger) *Service {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	return &Service{backend: backend, opts: opts, log: log.Sub("docstore")}
}

// Collection returns the collection the service reads.
func (s *Service) Collection() string { return s.opts.Collection }

// MaxLimit returns the absolute cap on list results.
func (s *Service) MaxLimit() int { return s.opts.MaxLimit }

// NormalizedFields returns the fields queried through shadows.
func (s *Service) NormalizedFields() []string { return s.opts.NormalizedFields }

// Ping checks the backend.
func (s *Service) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// ShadowField names the shadow of field.
func ShadowField(field string) string { return field + ShadowSuffix }

func (s *Service) isNormalized(field string) bool {
	return slices.Contains(s.opts.NormalizedFields, field)
}

// normalizeStage derives every shadow field with a conversion that maps
// non-numeric and missing values to UnknownSentinel.
func (s *Service) normalizeStage() bson.D {
	fields := bson.D{}
	for _, f := range s.opts.NormalizedFields {
		fields = append(fields, bson.E{Key: ShadowField(f), Value: bson.D{
			{Key: "$convert", Value: bson.D{
				{Key: "input", Value: "$" + f},
				{Key: "to", Value: "int"},
				{Key: "onError", Value: UnknownSentinel},
				{Key: "onNull", Value: UnknownSentinel},
			}},
		}})
	}
	return bson.D{{Key: "$addFields", Value: fields}}
}

func (s *Service) unsetStage() bson.D {
	names := bson.A{}
	for _, f := range s.opts.NormalizedFields {
		names = append(names, ShadowField(f))
	}
	return bson.D{{Key: "$unset", Value: names}}
}

// wrap surrounds the caller's stages with shadow derivation and removal.
func (s *Service) wrap(stages ...bson.D) []bson.D {
	if len(s.opts.NormalizedFields) == 0 {
		return stages
	}
	out := make([]bson.D, 0, len(stages)+2)
	out = append(out, s.normalizeStage())
	out = append(out, stages...)
	return append(out, s.unsetStage())
}

// rewriteFilter renames normalized fields to their shadows and coerces
// numeric strings in their operands to integers. Regex and existence
// tests keep the original field.
func (s *Service) rewriteFilter(filter bson.D) bson.D {
	out := make(bson.D, 0, len(filter))
	for _, e := range filter {
		switch {
		case e.Key == "$and" || e.Key == "$or" || e.Key == "$nor":
			if arr, ok := e.Value.(bson.A); ok {
				sub := make(bson.A, len(arr))
				for i, v := range arr {
					if d, ok := asDoc(v); ok {
						sub[i] = s.rewriteFilter(d)
					} else {
						sub[i] = v
					}
				}
				e.Value = sub
			}
		case s.isNormalized(e.Key) && !textualCondition(e.Value):
			e.Key = ShadowField(e.Key)
			e.Value = coerceOperand(e.Value)
		}
		out = append(out, e)
	}
	return out
}

func textualCondition(v any) bool {
	if _, ok := v.(bson.Regex); ok {
		return true
	}
	d, ok := asDoc(v)
	if !ok {
		return false
	}
	for _, e := range d {
		if e.Key == "$regex" || e.Key == "$exists" {
			return true
		}
	}
	return false
}

func coerceOperand(v any) any {
	switch x := v.(type) {
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return int32(n)
		}
		return x
	case bson.A:
		out := make(bson.A, len(x))
		for i, item := range x {
			out[i] = coerceOperand(item)
		}
		return out
	case bson.D, bson.M:
		d, _ := asDoc(x)
		out := make(bson.D, len(d))
		for i, e := range d {
			out[i] = bson.E{Key: e.Key, Value: coerceOperand(e.Value)}
		}
		return out
	default:
		return v
	}
}

func (s *Service) rewriteSort(sort bson.D) bson.D {
	out := make(bson.D, len(sort))
	for i, e := range sort {
		if s.isNormalized(e.Key) {
			e.Key = ShadowField(e.Key)
		}
		out[i] = e
	}
	return out
}

// rewriteRefs replaces "$field" references to normalized fields inside
// an expression, used for group keys.
func (s *Service) rewriteRefs(expr any) any {
	switch x := expr.(type) {
	case string:
		if strings.HasPrefix(x, "$") && s.isNormalized(x[1:]) {
			return "$" + ShadowField(x[1:])
		}
		return x
	case bson.D:
		out := make(bson.D, len(x))
		for i, e := range x {
			out[i] = bson.E{Key: e.Key, Value: s.rewriteRefs(e.Value)}
		}
		return out
	case bson.M:
		return s.rewriteRefs(mapToD(x))
	case bson.A:
		out := make(bson.A, len(x))
		for i, v := range x {
			out[i] = s.rewriteRefs(v)
		}
		return out
	default:
		return expr
	}
}

// rewriteStage applies the normalization rewrites to one caller stage.
func (s *Service) rewriteStage(stage bson.D) bson.D {
	if len(stage) != 1 {
		return stage
	}
	op, spec := stage[0].Key, stage[0].Value
	switch op {
	case "$match":
		if d, ok := asDoc(spec); ok {
			return bson.D{{Key: op, Value: s.rewriteFilter(d)}}
		}
	case "$sort":
		if d, ok := asDoc(spec); ok {
			return bson.D{{Key: op, Value: s.rewriteSort(d)}}
		}
	case "$group":
		if d, ok := asDoc(spec); ok {
			out := make(bson.D, len(d))
			for i, e := range d {
				if e.Key == "_id" {
					e.Value = s.rewriteRefs(e.Value)
				}
				out[i] = e
			}
			return bson.D{{Key: op, Value: out}}
		}
	}
	return stage
}

func (s *Service) run(ctx context.Context, pipeline []bson.D) ([]bson.M, string, error) {
	start := time.Now()
	desc := describe(pipeline)
	docs, err := s.backend.Aggregate(ctx, s.opts.Collection, pipeline)
	if err != nil {
		s.log.Warn().Err(err).Str("pipeline", desc).Msg("aggregate failed")
		return nil, desc, fmt.Errorf("query failed: %w", err)
	}
	s.log.Debug().
		Str("pipeline", desc).
		Int("documents", len(docs)).
		Dur("duration", time.Since(start)).
		Msg("aggregate executed")
	return docs, desc, nil
}

// Find returns documents matching filter, ordered by sort, bounded by the
// clamped limit.
func (s *Service) Find(ctx context.Context, filter, sort bson.D, limit int) (Query, error) {
	stages := []bson.D{}
	if len(filter) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: s.rewriteFilter(filter)}})
	}
	if len(sort) > 0 {
		stages = append(stages, bson.D{{Key: "$sort", Value: s.rewriteSort(sort)}})
	}
	stages = append(stages, bson.D{{Key: "$limit", Value: ClampLimit(limit, s.opts.MaxLimit)}})

	docs, desc, err := s.run(ctx, s.wrap(stages...))
	if err != nil {
		return Query{Pipeline: desc}, err
	}
	return Query{Documents: plainDocs(docs), Pipeline: desc}, nil
}

// Aggregate runs a caller pipeline with normalized fields rewritten. A
// trailing $limit is clamped to the cap; a pipeline without one gets one
// at the cap.
func (s *Service) Aggregate(ctx context.Context, pipeline []bson.D) (Query, error) {
	stages := make([]bson.D, 0, len(pipeline)+1)
	for _, st := range pipeline {
		stages = append(stages, s.rewriteStage(st))
	}
	if n := len(stages); n > 0 && len(stages[n-1]) == 1 && stages[n-1][0].Key == "$limit" {
		requested, _ := toInt(stages[n-1][0].Value)
		stages[n-1] = bson.D{{Key: "$limit", Value: ClampLimit(requested, s.opts.MaxLimit)}}
	} else {
		stages = append(stages, bson.D{{Key: "$limit", Value: s.opts.MaxLimit}})
	}

	docs, desc, err := s.run(ctx, s.wrap(stages...))
	if err != nil {
		return Query{Pipeline: desc}, err
	}
	return Query{Documents: plainDocs(docs), Pipeline: desc}, nil
}

// Count returns how many documents match filter.
func (s *Service) Count(ctx context.Context, filter bson.D) (int, string, error) {
	stages := []bson.D{}
	if len(filter) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: s.rewriteFilter(filter)}})
	}
	stages = append(stages, bson.D{{Key: "$count", Value: "count"}})

	docs, desc, err := s.run(ctx, s.wrap(stages...))
	if err != nil {
		return 0, desc, err
	}
	if len(docs) == 0 {
		return 0, desc, nil
	}
	n, _ := toInt(docs[0]["count"])
	return n, desc, nil
}

// ByFieldEquals returns documents whose field equals value.
func (s *Service) ByFieldEquals(ctx context.Context, field string, value any, limit int) (Query, error) {
	if field == "" {
		return Query{}, fmt.Errorf("%w: field is required", ErrInvalidArgument)
	}
	return s.Find(ctx, bson.D{{Key: field, Value: value}}, nil, limit)
}

// ByFieldRange returns documents whose field lies in [from, to], ordered
// by that field.
func (s *Service) ByFieldRange(ctx context.Context, field string, from, to any, limit int) (Query, error) {
	if field == "" {
		return Query{}, fmt.Errorf("%w: field is required", ErrInvalidArgument)
	}
	cond := bson.D{}
	if from != nil {
		cond = append(cond, bson.E{Key: "$gte", Value: from})
	}
	if to != nil {
		cond = append(cond, bson.E{Key: "$lte", Value: to})
	}
	if len(cond) == 0 {
		return Query{}, fmt.Errorf("%w: a lower or upper bound is required", ErrInvalidArgument)
	}
	return s.Find(ctx, bson.D{{Key: field, Value: cond}}, bson.D{{Key: field, Value: 1}}, limit)
}

// CountGroupedByField counts matching documents per value of field,
// ordered by value. For a normalized field, text and numeric forms of the
// same value share a bucket, and unconvertible values are reported under
// the key "unknown".
func (s *Service) CountGroupedByField(ctx context.Context, field string, filter bson.D) ([]domain.GroupCount, string, error) {
	if field == "" {
		return nil, "", fmt.Errorf("%w: field is required", ErrInvalidArgument)
	}
	key := "$" + field
	if s.isNormalized(field) {
		key = "$" + ShadowField(field)
	}

	stages := []bson.D{}
	if len(filter) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: s.rewriteFilter(filter)}})
	}
	stages = append(stages,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: key},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	)

	docs, desc, err := s.run(ctx, s.wrap(stages...))
	if err != nil {
		return nil, desc, err
	}

	out := make([]domain.GroupCount, 0, len(docs))
	for _, d := range docs {
		n, _ := toInt(d["count"])
		k := plain(d["_id"])
		if s.isNormalized(field) {
			if f, ok := toFloat(d["_id"]); ok && f == UnknownSentinel {
				k = "unknown"
			} else if ok {
				k = int(f)
			}
		}
		out = append(out, domain.GroupCount{Key: k, Count: n})
	}
	return out, desc, nil
}
