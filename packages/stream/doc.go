// Package stream provides the lazy, push-based body streams that responses
// are built on.
//
// A Stream is subscribed to exactly once. Producers emit chunks with
// Pipe.Push as data becomes available; the consumer can cancel the
// subscription, after which further chunks are dropped and Push reports false
// so the producer can stop.
package stream
