package assertions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Subject is the view of a response the evaluator reads.
type Subject interface {
	Status() int
	// HeaderValue returns the value for key and whether the header exists.
	HeaderValue(key string) (string, bool)
	// BodyText returns the whole body, joined if chunked. ok is false while
	// the body is still pending.
	BodyText() (text string, ok bool)
	// BodyChunks returns the resolved chunk sequence. ok is false unless the
	// body was accumulated into chunks.
	BodyChunks() (chunks []string, ok bool)
}

// PendingBody is the actual value reported for a body that was never read.
const PendingBody = "<pending body>"

type Evaluator struct {
	subject Subject
	observe func(field Field, matched bool)
}

// EvaluatorOption is a functional option for configuring an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithObserver registers a hook called with the outcome of every field
// evaluated. Used for metrics.
func WithObserver(fn func(field Field, matched bool)) EvaluatorOption {
	return func(e *Evaluator) {
		e.observe = fn
	}
}

func NewEvaluator(subject Subject, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{subject: subject}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks status, headers, body, chunks and JSON paths in that order
// and stops at the first failure.
func (e *Evaluator) Evaluate(opts MatchOptions) Result {
	steps := []struct {
		field  Field
		active bool
		run    func() Result
	}{
		{FieldStatus, !opts.Status.IsAbsent(), func() Result { return e.status(opts.Status) }},
		{FieldHeader, len(opts.Header) > 0, func() Result { return e.headers(opts.Header) }},
		{FieldBody, !opts.Body.IsAbsent(), func() Result { return e.body(opts.Body) }},
		{FieldChunks, opts.Chunks != nil, func() Result { return e.chunks(opts.Chunks) }},
		{FieldJSON, len(opts.JSON) > 0, func() Result { return e.json(opts.JSON) }},
	}

	for _, step := range steps {
		if !step.active {
			continue
		}
		r := step.run()
		if e.observe != nil {
			e.observe(step.field, r.Matched)
		}
		if !r.Matched {
			return r
		}
	}
	return matched
}

// Evaluate is a shorthand for NewEvaluator(subject).Evaluate(opts).
func Evaluate(subject Subject, opts MatchOptions) Result {
	return NewEvaluator(subject).Evaluate(opts)
}

func (e *Evaluator) status(expected Expectation) Result {
	return Compare(FieldStatus, e.subject.Status(), ResolveStatus(expected))
}

// headers is conjunctive over the expected keys; extra actual headers are ignored.
func (e *Evaluator) headers(expected map[string]Expectation) Result {
	for _, key := range sortedKeys(expected) {
		var actual any
		if v, ok := e.subject.HeaderValue(key); ok {
			actual = v
		}
		if r := Compare(FieldHeader, actual, expected[key]); !r.Matched {
			return r.WithKey(key)
		}
	}
	return matched
}

func (e *Evaluator) body(expected Expectation) Result {
	text, ok := e.subject.BodyText()
	if !ok {
		r := Compare(FieldBody, nil, expected)
		if r.Failure != nil {
			r.Failure.Actual = PendingBody
		}
		return r
	}
	return Compare(FieldBody, text, expected)
}

// chunks compares position by position. A length difference fails at the
// first position present on one side only.
func (e *Evaluator) chunks(expected []Expectation) Result {
	actual, ok := e.subject.BodyChunks()
	if !ok {
		return Result{Failure: &Failure{
			Field:    FieldChunks,
			Actual:   PendingBody,
			Expected: formatList(expected),
		}}
	}

	n := max(len(actual), len(expected))
	for i := 0; i < n; i++ {
		key := strconv.Itoa(i)
		if i >= len(expected) {
			return Result{Failure: &Failure{
				Field:    FieldChunks,
				Key:      key,
				Actual:   actual[i],
				Expected: "no chunk",
			}}
		}
		var a any
		if i < len(actual) {
			a = actual[i]
		}
		if r := Compare(FieldChunks, a, expected[i]); !r.Matched {
			return r.WithKey(key)
		}
	}
	return matched
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// convertBracketNotation converts array bracket notation to gjson dot notation
// e.g., "[0].id" -> "0.id", "items[0].tags[1]" -> "items.0.tags.1"
func convertBracketNotation(path string) string {
	return strings.TrimPrefix(bracketIndex.ReplaceAllString(path, ".$1"), ".")
}

func (e *Evaluator) json(expected map[string]Expectation) Result {
	text, ok := e.subject.BodyText()
	for _, path := range sortedKeys(expected) {
		var actual any
		if ok && gjson.Valid(text) {
			if res := gjson.Get(text, convertBracketNotation(path)); res.Exists() {
				actual = jsonScalar(res)
			}
		}
		if r := Compare(FieldJSON, actual, expected[path]); !r.Matched {
			return r.WithKey(path)
		}
	}
	return matched
}

// jsonScalar maps a gjson result onto the values Compare understands. Integer
// literals that fit in int64 stay exact; objects and arrays compare by their
// raw JSON text.
func jsonScalar(res gjson.Result) any {
	switch res.Type {
	case gjson.Number:
		if !strings.ContainsAny(res.Raw, ".eE") {
			if n, err := strconv.ParseInt(res.Raw, 10, 64); err == nil {
				return n
			}
		}
		return res.Float()
	case gjson.String:
		return res.String()
	case gjson.Null:
		return nil
	default:
		return res.Raw
	}
}

func formatList(expected []Expectation) string {
	parts := make([]string, len(expected))
	for i, e := range expected {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
