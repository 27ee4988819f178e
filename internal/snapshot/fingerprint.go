package snapshot

import (
	"bytes"
	"encoding/json"
	"strconv"
	"unicode/utf16"
)

// Fingerprint returns the change fingerprint of records, used when the feed
// does not supply its own etag.
//
// This is a weak 32-bit multiplicative hash meant for change detection only.
// It is not an integrity check and collisions are possible. External consumers
// may key off the "h<hex>" format, so do not swap it for a cryptographic hash.
func Fingerprint(records []json.RawMessage) string {
	return FingerprintString(Canonical(records))
}

// Canonical renders records as a compact JSON array, keeping each record's
// key order, string escapes and number spelling as received.
func Canonical(records []json.RawMessage) string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := json.Compact(&buf, r); err != nil {
			buf.Write(r)
		}
	}
	buf.WriteByte(']')
	return buf.String()
}

// FingerprintString folds s through h = h*31 + unit over its UTF-16 code
// units with uint32 wraparound and renders the result as "h" + lowercase hex.
func FingerprintString(s string) string {
	var h uint32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + uint32(u)
	}
	return "h" + strconv.FormatUint(uint64(h), 16)
}
