package docstore

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryBackend evaluates a subset of the aggregation language over
// documents held in process. It backs the "memory" driver and tests.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string][]bson.M
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string][]bson.M)}
}

// Insert appends documents to a collection.
func (b *MemoryBackend) Insert(collection string, docs ...bson.M) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collections[collection] = append(b.collections[collection], docs...)
}

// LoadExtJSON appends the documents of an extended JSON array.
func (b *MemoryBackend) LoadExtJSON(collection string, data []byte) (int, error) {
	var wrapper struct {
		Docs []bson.M `bson:"docs"`
	}
	doc := append(append([]byte(`{"docs":`), data...), '}')
	if err := bson.UnmarshalExtJSON(doc, false, &wrapper); err != nil {
		return 0, fmt.Errorf("parsing seed documents: %w", err)
	}
	b.Insert(collection, wrapper.Docs...)
	return len(wrapper.Docs), nil
}

func (b *MemoryBackend) Ping(context.Context) error  { return nil }
func (b *MemoryBackend) Close(context.Context) error { return nil }

func (b *MemoryBackend) Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]bson.M, error) {
	b.mu.RLock()
	src := b.collections[collection]
	docs := make([]bson.M, len(src))
	for i, d := range src {
		docs[i] = cloneDoc(d)
	}
	b.mu.RUnlock()

	for i, stage := range pipeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(stage) != 1 {
			return nil, fmt.Errorf("stage %d must have exactly one operator", i)
		}
		var err error
		docs, err = applyStage(docs, stage[0].Key, stage[0].Value)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, stage[0].Key, err)
		}
	}
	return docs, nil
}

func applyStage(docs []bson.M, op string, spec any) ([]bson.M, error) {
	switch op {
	case "$match":
		filter, ok := asDoc(spec)
		if !ok {
			return nil, fmt.Errorf("expected a document")
		}
		out := docs[:0:0]
		for _, d := range docs {
			ok, err := matches(d, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, d)
			}
		}
		return out, nil

	case "$addFields", "$set":
		fields, ok := asDoc(spec)
		if !ok {
			return nil, fmt.Errorf("expected a document")
		}
		for _, d := range docs {
			for _, f := range fields {
				d[f.Key] = eval(f.Value, d)
			}
		}
		return docs, nil

	case "$unset":
		var names []string
		switch v := spec.(type) {
		case string:
			names = []string{v}
		case bson.A:
			for _, n := range v {
				if s, ok := n.(string); ok {
					names = append(names, s)
				}
			}
		default:
			return nil, fmt.Errorf("expected a field name or array of names")
		}
		for _, d := range docs {
			for _, n := range names {
				delete(d, n)
			}
		}
		return docs, nil

	case "$project":
		p, ok := asDoc(spec)
		if !ok {
			return nil, fmt.Errorf("expected a document")
		}
		return project(docs, p), nil

	case "$sort":
		keys, ok := asDoc(spec)
		if !ok || len(keys) == 0 {
			return nil, fmt.Errorf("expected a non-empty document")
		}
		sort.SliceStable(docs, func(i, j int) bool {
			for _, k := range keys {
				a, _ := lookup(docs[i], k.Key)
				b, _ := lookup(docs[j], k.Key)
				c := compareValues(a, b)
				if c == 0 {
					continue
				}
				if n, _ := toFloat(k.Value); n < 0 {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		return docs, nil

	case "$skip":
		n, ok := toInt(spec)
		if !ok || n < 0 {
			return nil, fmt.Errorf("expected a non-negative number")
		}
		if n >= len(docs) {
			return []bson.M{}, nil
		}
		return docs[n:], nil

	case "$limit":
		n, ok := toInt(spec)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("expected a positive number")
		}
		if n < len(docs) {
			docs = docs[:n]
		}
		return docs, nil

	case "$count":
		name, ok := spec.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected a field name")
		}
		if len(docs) == 0 {
			return []bson.M{}, nil
		}
		return []bson.M{{name: int32(len(docs))}}, nil

	case "$group":
		g, ok := asDoc(spec)
		if !ok {
			return nil, fmt.Errorf("expected a document")
		}
		return group(docs, g)

	default:
		return nil, fmt.Errorf("unsupported stage")
	}
}

func project(docs []bson.M, spec bson.D) []bson.M {
	inclusive := false
	for _, f := range spec {
		if f.Key == "_id" {
			continue
		}
		if n, ok := toFloat(f.Value); ok && n == 0 {
			continue
		}
		if b, ok := f.Value.(bool); ok && !b {
			continue
		}
		inclusive = true
	}

	out := make([]bson.M, len(docs))
	for i, d := range docs {
		if !inclusive {
			nd := cloneDoc(d)
			for _, f := range spec {
				delete(nd, f.Key)
			}
			out[i] = nd
			continue
		}
		nd := bson.M{}
		if v, ok := d["_id"]; ok {
			nd["_id"] = v
		}
		for _, f := range spec {
			switch v := f.Value.(type) {
			case bool:
				if v {
					if val, ok := lookup(d, f.Key); ok {
						nd[f.Key] = val
					}
				} else {
					delete(nd, f.Key)
				}
			case int32, int64, int, float64:
				n, _ := toFloat(v)
				if n != 0 {
					if val, ok := lookup(d, f.Key); ok {
						nd[f.Key] = val
					}
				} else {
					delete(nd, f.Key)
				}
			default:
				nd[f.Key] = eval(v, d)
			}
		}
		out[i] = nd
	}
	return out
}

type groupState struct {
	id     any
	values bson.M
	counts map[string]int
	ints   map[string]bool
}

func group(docs []bson.M, spec bson.D) ([]bson.M, error) {
	var idExpr any
	var accs bson.D
	for _, f := range spec {
		if f.Key == "_id" {
			idExpr = f.Value
			continue
		}
		acc, ok := asDoc(f.Value)
		if !ok || len(acc) != 1 {
			return nil, fmt.Errorf("accumulator for %q must have one operator", f.Key)
		}
		switch acc[0].Key {
		case "$sum", "$avg", "$min", "$max", "$first":
		default:
			return nil, fmt.Errorf("unsupported accumulator %s", acc[0].Key)
		}
		accs = append(accs, f)
	}

	var order []string
	groups := make(map[string]*groupState)
	for _, d := range docs {
		id := eval(idExpr, d)
		key := groupKey(id)
		st, ok := groups[key]
		if !ok {
			st = &groupState{id: id, values: bson.M{}, counts: map[string]int{}, ints: map[string]bool{}}
			groups[key] = st
			order = append(order, key)
		}
		for _, f := range accs {
			acc, _ := asDoc(f.Value)
			op, arg := acc[0].Key, eval(acc[0].Value, d)
			accumulate(st, f.Key, op, arg)
		}
	}

	out := make([]bson.M, 0, len(order))
	for _, key := range order {
		st := groups[key]
		res := bson.M{"_id": st.id}
		for _, f := range accs {
			acc, _ := asDoc(f.Value)
			v := st.values[f.Key]
			switch acc[0].Key {
			case "$sum":
				if v == nil {
					v = int32(0)
				} else if st.ints[f.Key] {
					v = int64(v.(float64))
				}
			case "$avg":
				if n := st.counts[f.Key]; n > 0 {
					v = v.(float64) / float64(n)
				}
			}
			res[f.Key] = v
		}
		out = append(out, res)
	}
	return out, nil
}

func accumulate(st *groupState, field, op string, arg any) {
	switch op {
	case "$sum", "$avg":
		n, ok := toFloat(arg)
		if !ok {
			return
		}
		prev, _ := st.values[field].(float64)
		if _, seen := st.values[field]; !seen {
			st.ints[field] = true
		}
		if !isInteger(arg) {
			st.ints[field] = false
		}
		st.values[field] = prev + n
		st.counts[field]++
	case "$min", "$max":
		if arg == nil {
			return
		}
		cur, seen := st.values[field]
		c := compareValues(arg, cur)
		if !seen || (op == "$min" && c < 0) || (op == "$max" && c > 0) {
			st.values[field] = arg
		}
	case "$first":
		if _, seen := st.values[field]; !seen {
			st.values[field] = arg
		}
	}
}

// eval computes an aggregation expression against doc.
func eval(expr any, doc bson.M) any {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") {
			v, _ := lookup(doc, e[1:])
			return v
		}
		return e
	case bson.M:
		return eval(mapToD(e), doc)
	case bson.D:
		if len(e) == 1 && strings.HasPrefix(e[0].Key, "$") {
			return evalOperator(e[0].Key, e[0].Value, doc)
		}
		out := bson.D{}
		for _, f := range e {
			out = append(out, bson.E{Key: f.Key, Value: eval(f.Value, doc)})
		}
		return out
	case bson.A:
		out := make(bson.A, len(e))
		for i, v := range e {
			out[i] = eval(v, doc)
		}
		return out
	default:
		return expr
	}
}

func evalOperator(op string, arg any, doc bson.M) any {
	switch op {
	case "$literal":
		return arg
	case "$toString":
		v := eval(arg, doc)
		if v == nil {
			return nil
		}
		s, _ := convertTo(v, "string")
		return s
	case "$convert":
		spec, ok := asDoc(arg)
		if !ok {
			return nil
		}
		var input, onError, onNull any
		to := ""
		hasOnError := false
		for _, f := range spec {
			switch f.Key {
			case "input":
				input = eval(f.Value, doc)
			case "to":
				to, _ = eval(f.Value, doc).(string)
			case "onError":
				onError, hasOnError = eval(f.Value, doc), true
			case "onNull":
				onNull = eval(f.Value, doc)
			}
		}
		if input == nil {
			return onNull
		}
		v, err := convertTo(input, to)
		if err != nil {
			if hasOnError {
				return onError
			}
			return nil
		}
		return v
	default:
		return nil
	}
}

func convertTo(v any, to string) (any, error) {
	switch to {
	case "string":
		switch x := v.(type) {
		case string:
			return x, nil
		case bson.ObjectID:
			return x.Hex(), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		default:
			return fmt.Sprint(x), nil
		}
	case "int", "long":
		var n int64
		switch x := v.(type) {
		case string:
			p, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, err
			}
			n = p
		case bool:
			if x {
				n = 1
			}
		default:
			f, ok := toFloat(x)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("cannot convert %T to %s", v, to)
			}
			n = int64(f)
		}
		if to == "int" {
			if n > math.MaxInt32 || n < math.MinInt32 {
				return nil, fmt.Errorf("value %d overflows int", n)
			}
			return int32(n), nil
		}
		return n, nil
	case "double", "decimal":
		switch x := v.(type) {
		case string:
			return strconv.ParseFloat(strings.TrimSpace(x), 64)
		default:
			f, ok := toFloat(x)
			if !ok {
				return nil, fmt.Errorf("cannot convert %T to %s", v, to)
			}
			return f, nil
		}
	default:
		return nil, fmt.Errorf("unsupported conversion target %q", to)
	}
}

// matches reports whether doc satisfies a query filter.
func matches(doc bson.M, filter bson.D) (bool, error) {
	for _, f := range filter {
		switch f.Key {
		case "$and", "$or", "$nor":
			arr, ok := f.Value.(bson.A)
			if !ok {
				return false, fmt.Errorf("%s requires an array", f.Key)
			}
			anyMatch, allMatch := false, true
			for _, sub := range arr {
				sd, ok := asDoc(sub)
				if !ok {
					return false, fmt.Errorf("%s entries must be documents", f.Key)
				}
				m, err := matches(doc, sd)
				if err != nil {
					return false, err
				}
				anyMatch = anyMatch || m
				allMatch = allMatch && m
			}
			switch f.Key {
			case "$and":
				if !allMatch {
					return false, nil
				}
			case "$or":
				if !anyMatch {
					return false, nil
				}
			case "$nor":
				if anyMatch {
					return false, nil
				}
			}
		default:
			val, present := lookup(doc, f.Key)
			ok, err := matchField(val, present, f.Value)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func matchField(val any, present bool, cond any) (bool, error) {
	ops, isOps := asDoc(cond)
	if !isOps || len(ops) == 0 || !strings.HasPrefix(ops[0].Key, "$") {
		return equalsOrContains(val, cond), nil
	}

	var options string
	for _, op := range ops {
		if op.Key == "$options" {
			options, _ = op.Value.(string)
		}
	}
	for _, op := range ops {
		var ok bool
		switch op.Key {
		case "$eq":
			ok = equalsOrContains(val, op.Value)
		case "$ne":
			ok = !equalsOrContains(val, op.Value)
		case "$gt", "$gte", "$lt", "$lte":
			ok = anyElement(val, func(v any) bool { return compareOp(op.Key, v, op.Value) })
		case "$in", "$nin":
			arr, isArr := op.Value.(bson.A)
			if !isArr {
				return false, fmt.Errorf("%s requires an array", op.Key)
			}
			for _, candidate := range arr {
				if equalsOrContains(val, candidate) {
					ok = true
					break
				}
			}
			if op.Key == "$nin" {
				ok = !ok
			}
		case "$exists":
			want := truthy(op.Value)
			ok = present == want
		case "$regex":
			re, err := compileRegex(op.Value, options)
			if err != nil {
				return false, err
			}
			ok = anyElement(val, func(v any) bool {
				s, isStr := v.(string)
				return isStr && re.MatchString(s)
			})
		case "$options":
			continue
		case "$not":
			sub, err := matchField(val, present, op.Value)
			if err != nil {
				return false, err
			}
			ok = !sub
		default:
			return false, fmt.Errorf("unsupported operator %s", op.Key)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compileRegex(v any, options string) (*regexp.Regexp, error) {
	var pattern string
	switch p := v.(type) {
	case string:
		pattern = p
	case bson.Regex:
		pattern = p.Pattern
		if options == "" {
			options = p.Options
		}
	default:
		return nil, fmt.Errorf("$regex requires a string")
	}
	if strings.Contains(options, "i") {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

func compareOp(op string, a, b any) bool {
	if typeClass(a) != typeClass(b) {
		return false
	}
	c := compareValues(a, b)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

func equalsOrContains(val, want any) bool {
	if re, ok := want.(bson.Regex); ok {
		compiled, err := compileRegex(re, "")
		if err != nil {
			return false
		}
		return anyElement(val, func(v any) bool {
			s, isStr := v.(string)
			return isStr && compiled.MatchString(s)
		})
	}
	if valuesEqual(val, want) {
		return true
	}
	if arr, ok := val.(bson.A); ok {
		for _, v := range arr {
			if valuesEqual(v, want) {
				return true
			}
		}
	}
	return false
}

func anyElement(val any, pred func(any) bool) bool {
	if arr, ok := val.(bson.A); ok {
		for _, v := range arr {
			if pred(v) {
				return true
			}
		}
		return false
	}
	return pred(val)
}

func valuesEqual(a, b any) bool {
	if typeClass(a) != typeClass(b) {
		return false
	}
	return compareValues(a, b) == 0
}

// typeClass orders values of different types: null, numbers, strings,
// documents, arrays, object ids, booleans, dates.
func typeClass(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float32, float64:
		return 1
	case string:
		return 2
	case bson.M, bson.D, map[string]any:
		return 3
	case bson.A, []any:
		return 4
	case bson.ObjectID:
		return 5
	case bool:
		return 6
	case bson.DateTime, time.Time:
		return 7
	default:
		return 8
	}
}

func compareValues(a, b any) int {
	ca, cb := typeClass(a), typeClass(b)
	if ca != cb {
		return cmpInt(ca, cb)
	}
	switch ca {
	case 0:
		return 0
	case 1:
		x, _ := toFloat(a)
		y, _ := toFloat(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 5:
		return strings.Compare(a.(bson.ObjectID).Hex(), b.(bson.ObjectID).Hex())
	case 6:
		x, y := a.(bool), b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case 7:
		return toTime(a).Compare(toTime(b))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case bson.DateTime:
		return t.Time()
	case time.Time:
		return t
	}
	return time.Time{}
}

func groupKey(v any) string {
	switch typeClass(v) {
	case 0:
		return "null"
	case 1:
		f, _ := toFloat(v)
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	case 2:
		return "s:" + v.(string)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// lookup resolves a dotted path through nested documents.
func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch d := cur.(type) {
		case bson.M:
			v, ok := d[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]any:
			v, ok := d[part]
			if !ok {
				return nil, false
			}
			cur = v
		case bson.D:
			found := false
			for _, e := range d {
				if e.Key == part {
					cur, found = e.Value, true
					break
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

func asDoc(v any) (bson.D, bool) {
	switch d := v.(type) {
	case bson.D:
		return d, true
	case bson.M:
		return mapToD(d), true
	case map[string]any:
		return mapToD(d), true
	}
	return nil, false
}

// mapToD converts an unordered map into a document with sorted keys.
func mapToD(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

func cloneDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	return int(f), ok
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	}
	return false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
