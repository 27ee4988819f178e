package snapshot

import (
	"encoding/json"
	"testing"
)

func raw(ss ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(ss))
	for i, s := range ss {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestFingerprintString_Vectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "h0"},
		{"[]", "hb62"},
		{`[{"name":"Ann"}]`, "h3d8b557e"},
		{`[{"name":"Zoë"}]`, "h687b66e9"},
		// Astral characters fold as two UTF-16 code units.
		{`[{"name":"😀"}]`, "had68cb82"},
	}
	for _, tt := range tests {
		if got := FingerprintString(tt.in); got != tt.want {
			t.Errorf("FingerprintString(%q): got %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFingerprint_CanonicalWhitespace(t *testing.T) {
	a := Fingerprint(raw(`{"name": "Ann"}`))
	b := Fingerprint(raw(`{"name":"Ann"}`))
	if a != b {
		t.Errorf("whitespace changed fingerprint: %s vs %s", a, b)
	}
	if a != "h3d8b557e" {
		t.Errorf("Fingerprint: got %s, want h3d8b557e", a)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	records := raw(`{"name":"Ann","date":"2024-01-02"}`, `{"name":"Bob"}`)
	first := Fingerprint(records)
	for i := 0; i < 10; i++ {
		if got := Fingerprint(records); got != first {
			t.Fatalf("Fingerprint not deterministic: %s then %s", first, got)
		}
	}
}

func TestFingerprint_DetectsChange(t *testing.T) {
	a := Fingerprint(raw(`{"name":"Ann"}`))
	b := Fingerprint(raw(`{"name":"Ann"}`, `{"name":"Bob"}`))
	if a == b {
		t.Errorf("different payloads share fingerprint %s", a)
	}
	if Fingerprint(nil) != "hb62" {
		t.Errorf("Fingerprint(nil): got %s, want hb62", Fingerprint(nil))
	}
}

func TestCanonical(t *testing.T) {
	got := Canonical(raw("{ \"a\" : 1 }", `{"b":[1, 2]}`))
	want := `[{"a":1},{"b":[1,2]}]`
	if got != want {
		t.Errorf("Canonical: got %s, want %s", got, want)
	}
}

func TestCanonical_KeepsNumberSpelling(t *testing.T) {
	got := Canonical(raw(`{"n": 1.0, "e": 1e2}`))
	if want := `[{"n":1.0,"e":1e2}]`; got != want {
		t.Errorf("Canonical: got %s, want %s", got, want)
	}
	if Fingerprint(raw(`{"n":1.0}`)) == Fingerprint(raw(`{"n":1}`)) {
		t.Error("different number spellings share a fingerprint")
	}
}
