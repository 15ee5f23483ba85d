package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() failed: %v", err)
	}

	if !strings.HasPrefix(key, "gp_") {
		t.Errorf("expected gp_ prefix, got %q", key)
	}
	// 3-char prefix + 32 random bytes hex-encoded
	if len(key) != 3+64 {
		t.Errorf("expected key length 67, got %d", len(key))
	}
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	key1, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	key2, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}

	if key1 == key2 {
		t.Error("two generated keys are identical")
	}
}

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "simple key", input: "test-api-key"},
		{name: "key with whitespace trimmed", input: "  test-api-key  "},
		{name: "empty string", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := HashKey(tt.input)

			// Always a 64-char hex string
			if len(result) != 64 {
				t.Errorf("HashKey() returned %d chars, want 64", len(result))
			}
		})
	}

	// Whitespace is trimmed before hashing
	if HashKey("  test-api-key  ") != HashKey("test-api-key") {
		t.Error("HashKey() should trim whitespace before hashing")
	}

	// SHA256 of the empty string is a known constant
	if HashKey("") != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("HashKey(\"\") = %v", HashKey(""))
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	key := "my-secret-key"
	hash1 := HashKey(key)
	hash2 := HashKey(key)

	if hash1 != hash2 {
		t.Errorf("HashKey is not deterministic: %v != %v", hash1, hash2)
	}
}

func TestHashKey_DifferentInputsDifferentOutputs(t *testing.T) {
	hash1 := HashKey("key1")
	hash2 := HashKey("key2")

	if hash1 == hash2 {
		t.Error("Different keys produced same hash")
	}
}
