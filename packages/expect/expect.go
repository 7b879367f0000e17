// Package expect provides the respond-with and be-matching predicates on top
// of http.Response matching, and reports them through testify.
package expect

import (
	"sort"
	"strings"

	"github.com/stretchr/testify/assert"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
	reshttp "github.com/abdul-hamid-achik/respec/packages/http"
)

// Predicate checks a response against a fixed set of match options and
// keeps the outcome of its last check for the failure messages.
type Predicate struct {
	name   string
	opts   assertions.MatchOptions
	resp   *reshttp.Response
	result assertions.Result
}

// RespondWith matches a response returned by a request helper.
func RespondWith(opts assertions.MatchOptions) *Predicate {
	return &Predicate{name: "respond with", opts: opts}
}

// BeMatching has the same semantics as RespondWith and reads better inside
// an asynchronous callback that receives the response.
func BeMatching(opts assertions.MatchOptions) *Predicate {
	return &Predicate{name: "be matching", opts: opts}
}

// Matches evaluates the options against resp.
func (p *Predicate) Matches(resp *reshttp.Response) bool {
	p.resp = resp
	if resp == nil {
		p.result = assertions.Result{}
		return false
	}
	p.result = resp.Match(p.opts)
	return p.result.Matched
}

// FailureMessage explains a failed positive check.
func (p *Predicate) FailureMessage() string {
	if p.resp == nil {
		return "expected a response but got nil"
	}
	if p.result.Failure == nil {
		return "expected response to match the conditions"
	}
	return p.result.Failure.Message()
}

// NegatedFailureMessage explains a negated check that matched.
func (p *Predicate) NegatedFailureMessage() string {
	if p.resp == nil {
		return "expected a response but got nil"
	}
	return p.resp.DescribeUnexpectedMatch()
}

// String describes the predicate, e.g. `respond with status=:ok body="ok"`.
func (p *Predicate) String() string {
	var parts []string
	if !p.opts.Status.IsAbsent() {
		parts = append(parts, "status="+p.opts.Status.String())
	}
	parts = append(parts, describeMap("header", p.opts.Header)...)
	if !p.opts.Body.IsAbsent() {
		parts = append(parts, "body="+p.opts.Body.String())
	}
	if p.opts.Chunks != nil {
		chunks := make([]string, len(p.opts.Chunks))
		for i, c := range p.opts.Chunks {
			chunks[i] = c.String()
		}
		parts = append(parts, "chunks=["+strings.Join(chunks, ", ")+"]")
	}
	parts = append(parts, describeMap("json", p.opts.JSON)...)
	if len(parts) == 0 {
		return p.name + " anything"
	}
	return p.name + " " + strings.Join(parts, " ")
}

func describeMap(field string, m map[string]assertions.Expectation) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = field + "[" + k + "]=" + m[k].String()
	}
	return out
}

// Should fails t unless resp satisfies p.
func Should(t assert.TestingT, resp *reshttp.Response, p *Predicate, msgAndArgs ...interface{}) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if p.Matches(resp) {
		return true
	}
	return assert.Fail(t, p.FailureMessage(), msgAndArgs...)
}

// ShouldNot fails t if resp satisfies p.
func ShouldNot(t assert.TestingT, resp *reshttp.Response, p *Predicate, msgAndArgs ...interface{}) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if resp == nil {
		return assert.Fail(t, p.NegatedFailureMessage(), msgAndArgs...)
	}
	if !p.Matches(resp) {
		return true
	}
	return assert.Fail(t, p.NegatedFailureMessage(), msgAndArgs...)
}
