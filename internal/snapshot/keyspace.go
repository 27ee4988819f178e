package snapshot

import "strings"

// Keys holds the storage slot identifiers for one tenant.
type Keys struct {
	Data      string
	ETag      string
	UpdatedAt string
	LastError string
}

// KeysFor derives the slot identifiers for host. Each slot ends in a distinct
// final segment, so two different hosts never share an identifier.
func KeysFor(host string) Keys {
	prefix := "site:" + strings.ToLower(host) + ":"
	return Keys{
		Data:      prefix + "data",
		ETag:      prefix + "etag",
		UpdatedAt: prefix + "updated_at",
		LastError: prefix + "last_error",
	}
}

// All returns the slots in read order: data, etag, updated_at, last_error.
func (k Keys) All() []string {
	return []string{k.Data, k.ETag, k.UpdatedAt, k.LastError}
}
