package assertions

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field names the part of a response an expectation applies to.
type Field string

const (
	FieldStatus Field = "status"
	FieldHeader Field = "header"
	FieldBody   Field = "body"
	FieldChunks Field = "chunks"
	FieldJSON   Field = "json"
)

// Failure describes the first expectation a response did not meet.
type Failure struct {
	Field Field
	// Key is the header name, chunk index or JSON path; empty for status and body.
	Key      string
	Actual   any
	Expected string
}

// Subject is the field plus key, e.g. "header Content-Type" or "chunks[1]".
func (f *Failure) Subject() string {
	switch {
	case f.Key == "":
		return string(f.Field)
	case f.Field == FieldChunks:
		return fmt.Sprintf("%s[%s]", f.Field, f.Key)
	default:
		return fmt.Sprintf("%s %s", f.Field, f.Key)
	}
}

// Message renders the failure the way a positive assertion reports it.
func (f *Failure) Message() string {
	return fmt.Sprintf("expected %s in %s but got: %q", f.Expected, f.Subject(), formatActual(f.Actual))
}

// Result is the outcome of one comparison or of a whole match. Failure is nil
// when Matched is true.
type Result struct {
	Matched bool
	Failure *Failure
}

var matched = Result{Matched: true}

// WithKey returns r with the failure key set, if there is a failure.
func (r Result) WithKey(key string) Result {
	if r.Failure != nil {
		f := *r.Failure
		f.Key = key
		r.Failure = &f
	}
	return r
}

// Compare checks actual against expected for a single field.
//
// Rules, in order: an absent expectation matches; a nil actual never
// matches; a pattern matches the string form of actual; an integer equals
// the integer form of actual ("200" and 200 both equal 200); a string equals
// the string form of actual. Status buckets are resolved first.
func Compare(field Field, actual any, expected Expectation) Result {
	expected = ResolveStatus(expected)

	var ok bool
	switch {
	case expected.kind == KindAbsent:
		return matched
	case actual == nil:
		ok = false
	case expected.kind == KindPattern:
		ok = expected.pattern.MatchString(stringify(actual))
	case expected.kind == KindInteger:
		n, isInt := toInt64(actual)
		ok = isInt && n == expected.integer
	case expected.kind == KindString:
		ok = stringify(actual) == expected.str
	}

	if ok {
		return matched
	}
	return Result{Failure: &Failure{
		Field:    field,
		Actual:   actual,
		Expected: expected.String(),
	}}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case []string:
		return strings.Join(val, "")
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<63 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) >= 1<<63 {
			return 0, false
		}
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func formatActual(v any) string {
	if v == nil {
		return "<nil>"
	}
	return stringify(v)
}
