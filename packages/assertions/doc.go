// Package assertions provides the match engine used to verify responses.
//
// Supported expectations:
//   - Status code checks (exact 200 or "200", patterns, the ok and error buckets)
//   - Header checks, conjunctive over the expected names
//   - Body checks against the joined body text
//   - Chunk checks, position by position against the resolved chunk sequence
//   - JSON path checks on the body
//
// Each expectation is exact (integer or string), a regular expression, or
// absent. Evaluation stops at the first failing field and returns a Result
// describing it.
package assertions
