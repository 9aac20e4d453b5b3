// Package telemetry turns decoded heater records into dotted-path updates for
// a telemetry sink.
package telemetry

import (
	"reflect"
	"sort"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// maxNestedDepth is how many levels below a top-level field are walked.
const maxNestedDepth = 2

// PathValue is a single published value.
type PathValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Update is one batch of values published atomically.
type Update struct {
	Source    string
	Timestamp time.Time
	Values    []PathValue
}

// Fielder exposes a record's values as an ordered map keyed by field name.
type Fielder interface {
	Fields() *orderedmap.OrderedMap[string, any]
}

// BasePath returns the telemetry root for a heater instance.
func BasePath(instance string) string {
	return "environment.inside." + instance
}

// Flatten walks rec and emits basePath.field for every scalar value. Nested
// maps are descended up to two extra levels; anything deeper is skipped.
func Flatten(rec Fielder, basePath string) []PathValue {
	out := make([]PathValue, 0)
	if rec == nil {
		return out
	}
	if v := reflect.ValueOf(rec); v.Kind() == reflect.Pointer && v.IsNil() {
		return out
	}
	fields := rec.Fields()
	if fields == nil {
		return out
	}
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		out = appendValue(out, basePath+"."+pair.Key, pair.Value, 0)
	}
	return out
}

func appendValue(out []PathValue, path string, value any, depth int) []PathValue {
	switch v := value.(type) {
	case *orderedmap.OrderedMap[string, any]:
		if depth >= maxNestedDepth || v == nil {
			return out
		}
		for pair := v.Oldest(); pair != nil; pair = pair.Next() {
			out = appendValue(out, path+"."+pair.Key, pair.Value, depth+1)
		}
		return out
	case map[string]any:
		if depth >= maxNestedDepth {
			return out
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = appendValue(out, path+"."+k, v[k], depth+1)
		}
		return out
	}

	if !isScalar(value) {
		return out
	}
	return append(out, PathValue{Path: path, Value: value})
}

func isScalar(value any) bool {
	if value == nil {
		return false
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
