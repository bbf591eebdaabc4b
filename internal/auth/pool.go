// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/samber/oops"
)

// ErrPoolClosed is wrapped by errors returned for work submitted after Close.
var ErrPoolClosed = errors.New("hash pool is closed")

// HashPool runs password derivations on a fixed set of worker goroutines so
// CPU-heavy hashing cannot occupy every request goroutine at once.
type HashPool struct {
	hasher PasswordHasher
	jobs   chan func()
	quit   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewHashPool starts workers goroutines backed by hasher.
// A non-positive workers count uses runtime.NumCPU().
func NewHashPool(hasher PasswordHasher, workers int) (*HashPool, error) {
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &HashPool{
		hasher: hasher,
		jobs:   make(chan func()),
		quit:   make(chan struct{}),
	}
	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p, nil
}

func (p *HashPool) work() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.quit:
			return
		}
	}
}

type hashResult struct {
	hash string
	ok   bool
	err  error
}

// submit hands fn to a worker and waits for its result. The result channel is
// buffered so a worker never blocks on a caller that has already gone away.
func (p *HashPool) submit(ctx context.Context, fn func() hashResult) (hashResult, error) {
	done := make(chan hashResult, 1)
	job := func() { done <- fn() }

	select {
	case <-p.quit:
		return hashResult{}, poolClosed()
	default:
	}

	select {
	case p.jobs <- job:
	case <-p.quit:
		return hashResult{}, poolClosed()
	case <-ctx.Done():
		return hashResult{}, oops.Code("AUTH_HASH_CANCELLED").Wrap(ctx.Err())
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return hashResult{}, oops.Code("AUTH_HASH_CANCELLED").Wrap(ctx.Err())
	}
}

func poolClosed() error {
	return oops.Code("AUTH_HASH_POOL_CLOSED").Wrap(ErrPoolClosed)
}

// Hash derives a hash for password on a worker.
func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	res, err := p.submit(ctx, func() hashResult {
		h, err := p.hasher.Hash(password)
		return hashResult{hash: h, err: err}
	})
	if err != nil {
		return "", err
	}
	return res.hash, res.err
}

// Verify checks password against hash on a worker.
func (p *HashPool) Verify(ctx context.Context, password, hash string) (bool, error) {
	res, err := p.submit(ctx, func() hashResult {
		ok, err := p.hasher.Verify(password, hash)
		return hashResult{ok: ok, err: err}
	})
	if err != nil {
		return false, err
	}
	return res.ok, res.err
}

// Close stops the workers after any in-flight derivation finishes.
// It is safe to call more than once.
func (p *HashPool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
