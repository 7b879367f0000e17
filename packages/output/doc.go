// Package output renders check results.
//
// Supported output formats:
//   - Console: Human-readable colored terminal output
//   - JSON: Machine-readable JSON output, including response bodies
//   - JUnit: JUnit XML format for CI integration
//   - TAP: Test Anything Protocol format
//
// The JSON, JUnit and TAP formatters accumulate results and write them
// on Flush.
package output
