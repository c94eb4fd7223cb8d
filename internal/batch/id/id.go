// Package id provides unique identifier generation for batches.
package id

import "github.com/google/uuid"

// Prefix is prepended to every batch ID.
const Prefix = "batch-"

// Generate creates a new unique batch ID.
// Format: batch-<uuid v4>
// Example: batch-9b2c3f4e-5a6b-4c7d-8e9f-0a1b2c3d4e5f
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s looks like an ID returned by Generate.
func Valid(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	_, err := uuid.Parse(s[len(Prefix):])
	return err == nil
}
