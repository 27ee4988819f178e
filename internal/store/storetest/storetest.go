// Package storetest provides store.Store doubles for tests.
package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/testimonials-cache/testimonials-cache/internal/store"
)

// ErrInjected is returned by a Counting store when a failure is injected.
var ErrInjected = errors.New("injected store failure")

// Counting wraps a store.Store and counts every call that reaches it. It
// deliberately implements neither MultiGetter nor Batcher so that callers
// exercise the plain Get/Set/Delete path.
type Counting struct {
	Inner store.Store

	mu      sync.Mutex
	gets    int
	sets    int
	deletes int
	failOn  map[string]bool
}

// NewCounting wraps a fresh in-memory store.
func NewCounting() *Counting {
	return &Counting{Inner: store.NewMemoryStore(), failOn: make(map[string]bool)}
}

// FailKey makes every call touching key return ErrInjected.
func (c *Counting) FailKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn[key] = true
}

func (c *Counting) failing(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failOn[key]
}

func (c *Counting) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	if c.failing(key) {
		return "", false, ErrInjected
	}
	return c.Inner.Get(ctx, key)
}

func (c *Counting) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	if c.failing(key) {
		return ErrInjected
	}
	return c.Inner.Set(ctx, key, value)
}

func (c *Counting) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	if c.failing(key) {
		return ErrInjected
	}
	return c.Inner.Delete(ctx, key)
}

func (c *Counting) Close() error { return c.Inner.Close() }

// Reads returns the number of Get calls.
func (c *Counting) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

// Writes returns the number of Set and Delete calls.
func (c *Counting) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets + c.deletes
}

// Calls returns the total number of calls of any kind.
func (c *Counting) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets + c.sets + c.deletes
}

// Reset zeroes the counters.
func (c *Counting) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets, c.sets, c.deletes = 0, 0, 0
}
