package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/testimonials-cache/testimonials-cache/internal/store"
)

// ErrNoData is returned by Current when a tenant has never been refreshed
// successfully.
var ErrNoData = errors.New("no data yet")

// ErrCorruptSnapshot marks a stored payload that cannot be decoded. It means
// previously written data was damaged and is never recovered silently.
var ErrCorruptSnapshot = errors.New("corrupt snapshot payload")

// DecodeError carries the key and cause of a corrupt payload.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrCorruptSnapshot, e.Err} }

// State is everything stored for one tenant. Records is nil when no snapshot
// has been written; an empty but present snapshot is a non-nil empty slice.
type State struct {
	Records     []json.RawMessage
	Fingerprint string
	UpdatedAt   string
	LastError   string
}

// HasData reports whether a snapshot has ever been written.
func (s State) HasData() bool { return s.Records != nil }

// Count returns the number of cached records, 0 when none are stored.
func (s State) Count() int { return len(s.Records) }

// Current is the snapshot served by the read endpoint.
type Current struct {
	Records     []json.RawMessage
	Fingerprint string
	UpdatedAt   string
	Count       int
}

// Store reads and writes tenant snapshots on top of a key-value backend.
//
// The three snapshot slots are meant to be consistent. When the backend
// supports atomic batches and multi-key reads they are used; otherwise the
// slots are written in order and read independently, so a reader may observe
// a torn view if a write lands between two of its reads.
type Store struct {
	kv store.Store
}

// NewStore returns a Store backed by kv.
func NewStore(kv store.Store) *Store {
	return &Store{kv: kv}
}

// Read fetches all four slots for host.
func (s *Store) Read(ctx context.Context, host string) (State, error) {
	keys := KeysFor(host)
	vals, err := s.readAll(ctx, keys.All())
	if err != nil {
		return State{}, err
	}

	st := State{
		Fingerprint: deref(vals[1]),
		UpdatedAt:   deref(vals[2]),
		LastError:   deref(vals[3]),
	}
	if vals[0] != nil {
		records, err := decodeRecords(keys.Data, *vals[0])
		if err != nil {
			return State{}, err
		}
		st.Records = records
	}
	return st, nil
}

// readAll uses a single multi-key read when the backend offers one and
// fans out parallel reads otherwise.
func (s *Store) readAll(ctx context.Context, keys []string) ([]*string, error) {
	if mg, ok := s.kv.(store.MultiGetter); ok {
		vals, err := mg.MGet(ctx, keys...)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot: %w", err)
		}
		return vals, nil
	}

	vals := make([]*string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			v, ok, err := s.kv.Get(gctx, key)
			if err != nil {
				return err
			}
			if ok {
				vals[i] = &v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return vals, nil
}

// Current returns the snapshot payload and its metadata, or ErrNoData.
func (s *Store) Current(ctx context.Context, host string) (*Current, error) {
	st, err := s.Read(ctx, host)
	if err != nil {
		return nil, err
	}
	if !st.HasData() {
		return nil, ErrNoData
	}
	return &Current{
		Records:     st.Records,
		Fingerprint: st.Fingerprint,
		UpdatedAt:   st.UpdatedAt,
		Count:       st.Count(),
	}, nil
}

// Fingerprint returns the stored fingerprint for host, "" when absent.
func (s *Store) Fingerprint(ctx context.Context, host string) (string, error) {
	return s.get(ctx, KeysFor(host).ETag)
}

// UpdatedAt returns the stored timestamp for host, "" when absent.
func (s *Store) UpdatedAt(ctx context.Context, host string) (string, error) {
	return s.get(ctx, KeysFor(host).UpdatedAt)
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, _, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

// Write replaces the snapshot for host and clears its error slot. Slots are
// written data, etag, updated_at, then the error is deleted.
func (s *Store) Write(ctx context.Context, host string, records []json.RawMessage, fingerprint, updatedAt string) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	data, err := encodeRecords(records)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	keys := KeysFor(host)
	ops := []store.Op{
		store.SetOp(keys.Data, data),
		store.SetOp(keys.ETag, fingerprint),
		store.SetOp(keys.UpdatedAt, updatedAt),
		store.DeleteOp(keys.LastError),
	}
	if err := store.Apply(ctx, s.kv, ops); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// RecordError stores msg as the outstanding refresh error for host, leaving
// the snapshot untouched.
func (s *Store) RecordError(ctx context.Context, host, msg string) error {
	key := KeysFor(host).LastError
	if err := s.kv.Set(ctx, key, msg); err != nil {
		return fmt.Errorf("recording error: %w", err)
	}
	return nil
}

// ClearError removes the outstanding refresh error for host.
func (s *Store) ClearError(ctx context.Context, host string) error {
	key := KeysFor(host).LastError
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("clearing error: %w", err)
	}
	return nil
}

// encodeRecords serialises records without HTML escaping so the stored text
// matches what the feed sent.
func encodeRecords(records []json.RawMessage) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func decodeRecords(key, raw string) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}
	if records == nil {
		// "null" is not a valid snapshot.
		return nil, &DecodeError{Key: key, Err: errors.New("payload is null")}
	}
	return records, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
