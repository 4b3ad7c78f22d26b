package hashing

import (
	"context"
	"dupguard/internal/structures"

	"golang.org/x/sync/semaphore"
)

type result struct {
	fp  Fingerprint
	err error
}

// Pool runs decode+hash work on background goroutines, at most `workers` at
// a time, so event handlers are never blocked by CPU-bound work.
type Pool struct {
	sem  *semaphore.Weighted
	hash func([]byte, int) (Fingerprint, error)
}

func NewPool(conf *structures.Config) *Pool {
	workers := conf.Hashing.Workers
	if workers <= 0 {
		workers = 1
	}
	maxPixels := conf.Hashing.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Pool{
		sem: semaphore.NewWeighted(int64(workers)),
		hash: func(data []byte, size int) (Fingerprint, error) {
			return HashWithLimit(data, size, maxPixels)
		},
	}
}

// Compute blocks until the hash is ready or ctx is done. A cancelled caller
// does not cancel the running hash; its slot is released when it finishes.
func (p *Pool) Compute(ctx context.Context, data []byte, size int) (Fingerprint, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Fingerprint{}, err
	}
	out := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		fp, err := p.hash(data, size)
		out <- result{fp: fp, err: err}
	}()

	select {
	case r := <-out:
		return r.fp, r.err
	case <-ctx.Done():
		return Fingerprint{}, ctx.Err()
	}
}
