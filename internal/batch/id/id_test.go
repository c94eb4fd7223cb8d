package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	// Check format
	if !strings.HasPrefix(id, "batch-") {
		t.Errorf("expected ID to start with 'batch-', got %s", id)
	}
	if !Valid(id) {
		t.Errorf("generated ID %s should be valid", id)
	}

	// Check uniqueness
	id2 := Generate()
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"batch-9b2c3f4e-5a6b-4c7d-8e9f-0a1b2c3d4e5f", true},
		{"batch-", false},
		{"job-9b2c3f4e-5a6b-4c7d-8e9f-0a1b2c3d4e5f", false},
		{"batch-not-a-uuid", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
