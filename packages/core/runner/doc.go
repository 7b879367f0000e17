// Package runner executes respec check files against a live server.
//
// It provides functionality for:
//   - Running individual check files
//   - Reading bounded bodies from streaming responses
//   - Parallel execution with configurable concurrency
//   - Name and tag filters, skips and bail-out on first failure
//   - Waiting for the target service before the first check
package runner
