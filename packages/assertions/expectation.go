package assertions

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// ErrUnsupportedExpectation is returned when a value cannot be used as an
// expectation. It marks a mistake in the test itself, not a mismatch.
var ErrUnsupportedExpectation = errors.New("unsupported expectation type")

// Kind identifies the shape of an Expectation.
type Kind int

const (
	KindAbsent Kind = iota
	KindPattern
	KindInteger
	KindString
	KindBucket
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindPattern:
		return "pattern"
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindBucket:
		return "bucket"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// StatusBucket is a symbolic class of status codes.
type StatusBucket string

const (
	// StatusOK stands for any 2xx status.
	StatusOK StatusBucket = "ok"
	// StatusError stands for any three digit status outside 2xx.
	StatusError StatusBucket = "error"
)

// Expectation is the expected value of a single response field. The zero
// value is Absent and matches anything.
type Expectation struct {
	kind    Kind
	pattern *regexp.Regexp
	integer int64
	str     string
	bucket  StatusBucket
}

// Absent places no constraint on a field.
var Absent = Expectation{}

// Pattern expects the string form of the actual value to match re.
func Pattern(re *regexp.Regexp) Expectation {
	if re == nil {
		return Absent
	}
	return Expectation{kind: KindPattern, pattern: re}
}

// MustPattern compiles expr and panics on invalid syntax. Meant for literals in tests.
func MustPattern(expr string) Expectation {
	return Pattern(regexp.MustCompile(expr))
}

// Int expects the integer form of the actual value to equal n.
func Int(n int64) Expectation {
	return Expectation{kind: KindInteger, integer: n}
}

// String expects the string form of the actual value to equal s exactly.
func String(s string) Expectation {
	return Expectation{kind: KindString, str: s}
}

// Status expects the status code to fall in bucket b. Buckets other than
// StatusOK and StatusError return ErrUnsupportedExpectation.
func Status(b StatusBucket) (Expectation, error) {
	if b != StatusOK && b != StatusError {
		return Absent, fmt.Errorf("%w: unknown status bucket %q", ErrUnsupportedExpectation, string(b))
	}
	return Expectation{kind: KindBucket, bucket: b}, nil
}

// MustStatus is Status for test literals; it panics on unknown buckets.
func MustStatus(b StatusBucket) Expectation {
	e, err := Status(b)
	if err != nil {
		panic(err)
	}
	return e
}

// Expect converts a loosely typed value into an Expectation.
//
// Accepted: nil, Expectation, *regexp.Regexp, any Go integer type, string and
// StatusBucket. Anything else returns ErrUnsupportedExpectation.
func Expect(v any) (Expectation, error) {
	switch val := v.(type) {
	case nil:
		return Absent, nil
	case Expectation:
		return val, nil
	case *regexp.Regexp:
		return Pattern(val), nil
	case StatusBucket:
		return Status(val)
	case string:
		return String(val), nil
	case int:
		return Int(int64(val)), nil
	case int8:
		return Int(int64(val)), nil
	case int16:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint:
		return fromUnsigned(uint64(val))
	case uint8:
		return Int(int64(val)), nil
	case uint16:
		return Int(int64(val)), nil
	case uint32:
		return Int(int64(val)), nil
	case uint64:
		return fromUnsigned(val)
	default:
		return Absent, fmt.Errorf("%w: %T", ErrUnsupportedExpectation, v)
	}
}

func fromUnsigned(n uint64) (Expectation, error) {
	if n > math.MaxInt64 {
		return Absent, fmt.Errorf("%w: integer %d out of range", ErrUnsupportedExpectation, n)
	}
	return Int(int64(n)), nil
}

// MustExpect is Expect for test literals; it panics on unsupported values.
func MustExpect(v any) Expectation {
	e, err := Expect(v)
	if err != nil {
		panic(err)
	}
	return e
}

func (e Expectation) Kind() Kind {
	return e.kind
}

func (e Expectation) IsAbsent() bool {
	return e.kind == KindAbsent
}

// String renders the expectation for failure messages. Patterns are shown as
// their source between slashes, strings quoted.
func (e Expectation) String() string {
	switch e.kind {
	case KindPattern:
		return "/" + e.pattern.String() + "/"
	case KindInteger:
		return strconv.FormatInt(e.integer, 10)
	case KindString:
		return strconv.Quote(e.str)
	case KindBucket:
		return ":" + string(e.bucket)
	default:
		return "nil"
	}
}

var (
	okStatus    = regexp.MustCompile(`^2[0-9][0-9]$`)
	errorStatus = regexp.MustCompile(`^[013-9][0-9][0-9]$`)
)

// ResolveStatus turns a status bucket into the pattern it stands for. Every
// other expectation is returned unchanged.
func ResolveStatus(e Expectation) Expectation {
	if e.kind != KindBucket {
		return e
	}
	switch e.bucket {
	case StatusOK:
		return Pattern(okStatus)
	case StatusError:
		return Pattern(errorStatus)
	}
	return e
}
