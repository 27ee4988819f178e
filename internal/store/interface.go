// Package store provides the string key-value backends that hold tenant
// snapshot slots: an in-memory map, Redis, and SQLite.
package store

import (
	"context"
)

// Store is the minimal key-value contract consumed by the snapshot layer.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. ok is false if the key does
	// not exist; that is not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key with no expiry.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases any resources held by the store.
	Close() error
}

// MultiGetter is implemented by backends that can read several keys with a
// single consistent operation. Missing keys are returned as nil.
type MultiGetter interface {
	MGet(ctx context.Context, keys ...string) ([]*string, error)
}

// Op is a single mutation applied as part of a batch.
type Op struct {
	Key    string
	Value  string
	Delete bool
}

// SetOp returns an Op storing value under key.
func SetOp(key, value string) Op { return Op{Key: key, Value: value} }

// DeleteOp returns an Op removing key.
func DeleteOp(key string) Op { return Op{Key: key, Delete: true} }

// Batcher is implemented by backends that apply a batch of mutations
// atomically: either every Op lands or none does.
type Batcher interface {
	Apply(ctx context.Context, ops []Op) error
}

// Apply runs ops against s, atomically when s implements Batcher and in
// order otherwise. On the sequential path a failure stops the batch and the
// earlier writes stay applied.
func Apply(ctx context.Context, s Store, ops []Op) error {
	if b, ok := s.(Batcher); ok {
		return b.Apply(ctx, ops)
	}
	for _, op := range ops {
		var err error
		if op.Delete {
			err = s.Delete(ctx, op.Key)
		} else {
			err = s.Set(ctx, op.Key, op.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
