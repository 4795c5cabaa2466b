package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/blesim/internal/device/fake"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

// TestingT is the subset of testing.T the asserters report through.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	NilToEmptyArray          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
	IgnoreArrayOrder         bool     `default:"false"`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// WithIgnoreExtraKeys sets whether keys missing from expected are ignored in actual.
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreExtraKeys = ignore }
}

// WithNilToEmptyArray sets whether null and [] compare equal.
func WithNilToEmptyArray(normalize bool) Option {
	return func(opts *JSONAssertOptions) { opts.NilToEmptyArray = normalize }
}

// WithAllowPresencePlaceholder sets whether PresencePlaceholder is honored.
func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) { opts.AllowPresencePlaceholder = allow }
}

// WithIgnoredFields drops the named keys at any depth before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoredFields = fields }
}

// WithIgnoreArrayOrder sets whether array element order is ignored.
func WithIgnoreArrayOrder(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreArrayOrder = ignore }
}

type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Options returns a copy of the current options.
func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert compares actualJSON against expectedJSON and reports a diff on mismatch.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", d)
		return false
	}
	return true
}

// AssertDevice compares the object graph of d against expectedJSON.
func (ja *JSONAsserter) AssertDevice(d *fake.Device, expectedJSON string) bool {
	return ja.Assert(DeviceToJSON(d), expectedJSON)
}

// Diff returns a human readable diff, or "" when the documents match under the options.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if isArray(expected) && isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		fillPlaceholders(expected, actual)
	}
	if ja.options.NilToEmptyArray {
		normalizeNulls(expected, actual)
	}
	// ignored fields must be gone before sorting, they would otherwise affect element order
	if len(ja.options.IgnoredFields) > 0 {
		dropFields(expected, ja.options.IgnoredFields)
		dropFields(actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// walkPairs calls fn for each key or index present in both expected and actual containers.
func walkPairs(expected, actual interface{}, fn func(exp, act interface{}, set func(e, a interface{}))) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range exp {
			if _, present := act[k]; !present {
				continue
			}
			key := k
			fn(exp[key], act[key], func(e, a interface{}) { exp[key], act[key] = e, a })
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i >= len(act) {
				break
			}
			idx := i
			fn(exp[idx], act[idx], func(e, a interface{}) { exp[idx], act[idx] = e, a })
		}
	}
}

func fillPlaceholders(expected, actual interface{}) {
	walkPairs(expected, actual, func(exp, act interface{}, set func(e, a interface{})) {
		if s, ok := exp.(string); ok && s == PresencePlaceholder {
			set(act, act)
			return
		}
		fillPlaceholders(exp, act)
	})
}

// normalizeNulls turns null into [] where the other side holds an empty array or null.
func normalizeNulls(expected, actual interface{}) {
	walkPairs(expected, actual, func(exp, act interface{}, set func(e, a interface{})) {
		if isNullOrEmptyArray(exp) && isNullOrEmptyArray(act) {
			set([]interface{}{}, []interface{}{})
			return
		}
		normalizeNulls(exp, act)
	})
}

func isNullOrEmptyArray(v interface{}) bool {
	if v == nil {
		return true
	}
	arr, ok := v.([]interface{})
	return ok && len(arr) == 0
}

// pruneExtraKeys removes keys from actual that expected does not mention.
func pruneExtraKeys(actual, expected interface{}) {
	if exp, ok := expected.(map[string]interface{}); ok {
		if act, ok := actual.(map[string]interface{}); ok {
			for k := range act {
				if _, exists := exp[k]; !exists {
					delete(act, k)
				}
			}
		}
	}
	walkPairs(expected, actual, func(exp, act interface{}, _ func(e, a interface{})) {
		pruneExtraKeys(act, exp)
	})
}

func dropFields(v interface{}, fields []string) {
	switch node := v.(type) {
	case map[string]interface{}:
		for _, f := range fields {
			delete(node, f)
		}
		for _, child := range node {
			dropFields(child, fields)
		}
	case []interface{}:
		for _, child := range node {
			dropFields(child, fields)
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements.
func sortArrays(v interface{}) {
	switch node := v.(type) {
	case map[string]interface{}:
		for _, child := range node {
			sortArrays(child)
		}
	case []interface{}:
		for _, child := range node {
			sortArrays(child)
		}
		sort.Slice(node, func(i, j int) bool {
			a, _ := json.Marshal(node[i])
			b, _ := json.Marshal(node[j])
			return string(a) < string(b)
		})
	}
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
