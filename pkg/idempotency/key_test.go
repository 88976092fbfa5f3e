package idempotency

import (
	"errors"
	"strings"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "empty key is rejected", raw: "", wantErr: true},
		{name: "single byte is accepted", raw: "a"},
		{name: "typical key is accepted", raw: "abc123"},
		{name: "48 bytes are accepted", raw: strings.Repeat("k", 48)},
		{name: "49 bytes are rejected", raw: strings.Repeat("k", 49), wantErr: true},
		{name: "long key is rejected", raw: strings.Repeat("k", 200), wantErr: true},
		{name: "length is measured in bytes", raw: strings.Repeat("é", 25), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.raw)
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got: %v", err)
				}
				if verr.Raw != tt.raw {
					t.Errorf("expected error to carry raw key")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if key.String() != tt.raw {
				t.Errorf("expected key %q, got %q", tt.raw, key)
			}
		})
	}
}
