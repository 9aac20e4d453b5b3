package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures failures instead of failing the enclosing test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingT) failed() bool { return len(r.errors) > 0 }

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.False(t, opts.IgnoreArrayOrder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Assert(t *testing.T) {
	delta := `{
		"context": "vessels.self",
		"updates": [{
			"source": {"label": "heaterbridge", "type": "BLE"},
			"timestamp": "2026-10-18T09:00:00Z",
			"values": [
				{"path": "environment.inside.heater.roomtemp", "value": 295},
				{"path": "environment.inside.heater.runningstate", "value": "Heating"}
			]
		}]
	}`

	tests := []struct {
		name     string
		expected string
		options  []Option
		fails    bool
	}{
		{
			name: "presence placeholder matches any timestamp",
			expected: `{"updates": [{"timestamp": "<<PRESENCE>>", "values": [
				{"path": "environment.inside.heater.roomtemp", "value": 295},
				{"path": "environment.inside.heater.runningstate", "value": "Heating"}
			]}]}`,
		},
		{
			name:     "extra keys ignored by default",
			expected: `{"context": "vessels.self"}`,
		},
		{
			name:     "extra keys reported when not ignored",
			expected: `{"context": "vessels.self"}`,
			options:  []Option{WithIgnoreExtraKeys(false)},
			fails:    true,
		},
		{
			name:     "value mismatch",
			expected: `{"updates": [{"values": [{"path": "environment.inside.heater.roomtemp", "value": 296}]}]}`,
			fails:    true,
		},
		{
			name: "array order ignored on request",
			expected: `{"updates": [{"values": [
				{"path": "environment.inside.heater.runningstate", "value": "Heating"},
				{"path": "environment.inside.heater.roomtemp", "value": 295}
			]}]}`,
			options: []Option{WithIgnoreArrayOrder(true)},
		},
		{
			name:     "ignored fields dropped on both sides",
			expected: `{"updates": [{"timestamp": "1970-01-01T00:00:00Z", "source": {"label": "heaterbridge"}}]}`,
			options:  []Option{WithIgnoredFields("timestamp")},
		},
		{
			name:     "placeholder disabled compares literally",
			expected: `{"updates": [{"timestamp": "<<PRESENCE>>"}]}`,
			options:  []Option{WithAllowPresencePlaceholder(false)},
			fails:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.options...).Assert(delta, tt.expected)
			assert.Equal(t, tt.fails, rec.failed(), strings.Join(rec.errors, "\n"))
		})
	}
}

func TestJSONAsserter_RootArrays(t *testing.T) {
	rec := &recordingT{}
	NewJSONAsserter(rec).Assert(`[{"path":"a","value":1}]`, `[{"path":"a","value":1}]`)
	assert.False(t, rec.failed())

	NewJSONAsserter(rec).Assert(`[{"path":"a","value":1}]`, `[{"path":"a","value":2}]`)
	assert.True(t, rec.failed())
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	rec := &recordingT{}
	NewJSONAsserter(rec).Assert(`{`, `{}`)
	assert.True(t, rec.failed())
	assert.Contains(t, rec.errors[0], "invalid actual JSON")
}

func TestJSONAsserter_AssertValue(t *testing.T) {
	NewJSONAsserter(t).AssertValue(map[string]any{"path": "x", "value": 1.5, "extra": true}, `{"path": "x", "value": 1.5}`)
}
