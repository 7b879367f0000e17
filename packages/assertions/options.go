package assertions

import (
	"fmt"
	"regexp"
	"sort"
)

// MatchOptions holds the expectations of one match call. Nil maps and slices
// place no constraint; a non-nil empty Chunks expects zero chunks.
type MatchOptions struct {
	Status Expectation
	Header map[string]Expectation
	Body   Expectation
	Chunks []Expectation
	JSON   map[string]Expectation
}

// IsEmpty reports whether the options constrain nothing.
func (o MatchOptions) IsEmpty() bool {
	return o.Status.IsAbsent() && len(o.Header) == 0 && o.Body.IsAbsent() &&
		o.Chunks == nil && len(o.JSON) == 0
}

// ParseOptions builds MatchOptions from a loosely typed map with the keys
// status, header (or headers), body, chunks and json. Every value goes
// through Expect, so unsupported shapes fail here, before any comparison.
func ParseOptions(raw map[string]any) (MatchOptions, error) {
	var opts MatchOptions
	for key, value := range raw {
		var err error
		switch key {
		case "status":
			opts.Status, err = Expect(value)
		case "body":
			opts.Body, err = Expect(value)
		case "header", "headers":
			opts.Header, err = expectMap(value)
		case "json":
			opts.JSON, err = expectMap(value)
		case "chunks":
			opts.Chunks, err = expectList(value)
		default:
			return MatchOptions{}, fmt.Errorf("unknown match option %q", key)
		}
		if err != nil {
			return MatchOptions{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	return opts, nil
}

// MustOptions is ParseOptions for test literals; it panics on error.
func MustOptions(raw map[string]any) MatchOptions {
	opts, err := ParseOptions(raw)
	if err != nil {
		panic(err)
	}
	return opts
}

func expectMap(v any) (map[string]Expectation, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]Expectation:
		return m, nil
	case map[string]string:
		out := make(map[string]Expectation, len(m))
		for k, s := range m {
			out[k] = String(s)
		}
		return out, nil
	case map[string]*regexp.Regexp:
		out := make(map[string]Expectation, len(m))
		for k, re := range m {
			out[k] = Pattern(re)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]Expectation, len(m))
		for k, raw := range m {
			e, err := Expect(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected a mapping, got %T", ErrUnsupportedExpectation, v)
	}
}

func expectList(v any) ([]Expectation, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []Expectation:
		return l, nil
	case []string:
		out := make([]Expectation, len(l))
		for i, s := range l {
			out[i] = String(s)
		}
		return out, nil
	case []*regexp.Regexp:
		out := make([]Expectation, len(l))
		for i, re := range l {
			out[i] = Pattern(re)
		}
		return out, nil
	case []any:
		out := make([]Expectation, len(l))
		for i, raw := range l {
			e, err := Expect(raw)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected a sequence, got %T", ErrUnsupportedExpectation, v)
	}
}

func sortedKeys(m map[string]Expectation) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
