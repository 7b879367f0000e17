// Package harness drives an http.Handler in-process, the way a test drives
// an asynchronous endpoint: it dispatches the request on its own goroutine,
// returns once status and headers are known and, for successful responses,
// waits until a bounded number of body chunks arrived.
//
// Each Write the handler makes becomes one chunk, so streaming endpoints
// such as Server-Sent Events can be asserted on event by event:
//
//	h := harness.New(mock.NewServer().Handler())
//	resp, err := h.Get(ctx, "/sse", harness.Options{MaxChunks: 2})
//	if err != nil {
//		return err
//	}
//	resp.Matching(assertions.MatchOptions{Chunks: []assertions.Expectation{
//		assertions.MustPattern(`^data: Hello 1`),
//		assertions.MustPattern(`^data: Hello 2`),
//	}})
//
// Non-2xx responses are read until the handler returns and carry a raw body.
package harness
