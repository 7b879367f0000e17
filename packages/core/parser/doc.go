// Package parser reads respec check files.
//
// A check file is YAML with an optional base_url and default headers, and a
// list of checks. Each check names a request (method, path, headers, body),
// how much of the body to wait for (max_chunks, timeout) and what the
// response must look like:
//
//	base_url: http://localhost:3000
//	checks:
//	  - name: multipart
//	    path: /multipart
//	    max_chunks: 2
//	    expect:
//	      status: ok
//	      chunks: [part1, /part2/]
//
// Strings between slashes are patterns, with optional i, m, s or U flags
// after the closing slash. Unquoted integers are exact integers and ok or
// error under status stand for the 2xx and non-2xx buckets.
package parser
