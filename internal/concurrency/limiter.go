// Package concurrency provides bounded-parallelism goroutine tokens. Within
// one request the engine is cooperatively sequential (§5: "no intra-request
// parallelism other than the single msearch call per cluster per wave"), so
// the one place bounded parallelism applies is across requests: the HTTP
// front end acquires a token per inbound request to cap how many requests
// the process resolves concurrently, protecting the datastore clusters from
// an unbounded connection fan-out.
package concurrency

import "context"

// semaphore provides a set of tokens for limiting parallelism.
type semaphore chan struct{}

func makeSemaphore(maxThreads int) semaphore {
	return make(chan struct{}, maxThreads)
}

func (s semaphore) acquire() {
	s <- struct{}{}
}

func (s semaphore) release() {
	<-s
}

type limiterKey struct{}

// WithLimiter lets goroutines run with bounded parallelism.
//
// The limiter tracks a fixed set of goroutine tokens which a goroutine
// should acquire while doing work using AcquireToken and ReleaseToken. Once
// the tokens are exhausted, AcquireToken blocks until another goroutine
// releases its token.
//
// WithLimiter itself holds one token for its caller; a caller with no
// further work of its own (the HTTP front end's setup, not a request
// handler) should release it immediately so the full maxThreads is
// available to whatever acquires tokens afterward — see
// cmd/gqlengine-server's boundConcurrency.
func WithLimiter(ctx context.Context, maxThreads int) context.Context {
	sem := makeSemaphore(maxThreads)
	sem.acquire() // one token held for the calling goroutine
	return context.WithValue(ctx, limiterKey{}, sem)
}

// AcquireToken acquires a goroutine token, blocking until one is available.
func AcquireToken(ctx context.Context) {
	ctx.Value(limiterKey{}).(semaphore).acquire()
}

// ReleaseToken releases a goroutine token.
func ReleaseToken(ctx context.Context) {
	ctx.Value(limiterKey{}).(semaphore).release()
}
