// Package http provides the response wrapper that assertions run against,
// plus a client that produces such responses from real HTTP requests.
//
// A Response holds the status, the headers and a body that starts out as a
// pending stream:
//   - ReadBody accumulates up to N chunks and signals readiness on a channel
//   - Body fails with ErrBodyNotReady until then
//   - Match and Matching evaluate assertions.MatchOptions against it
//   - DescribeMismatch and DescribeUnexpectedMatch render failure messages
package http
