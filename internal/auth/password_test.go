package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestValidCredential(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1234", true},
		{"0000", true},
		{"123", false},
		{"12345", false},
		{"12a4", false},
		{" 1234", false},
		{"١٢٣٤", false}, // non-ASCII digits
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidCredential(tt.in); got != tt.want {
			t.Errorf("ValidCredential(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHash_OutputLooksBcrypt(t *testing.T) {
	p := NewPasswordServiceForTest()

	hash, err := p.Hash("4821")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Errorf("Hash() = %q, want bcrypt prefix", hash)
	}
	if strings.Contains(hash, "4821") {
		t.Error("hash must not contain the plaintext")
	}
}

func TestHash_RejectsOver72Bytes(t *testing.T) {
	p := NewPasswordServiceForTest()
	if _, err := p.Hash(strings.Repeat("1", 73)); err == nil {
		t.Fatal("Hash() should reject input over 72 bytes")
	}
}

func TestVerify(t *testing.T) {
	p := NewPasswordServiceForTest()
	hash, _ := p.Hash("4821")

	if err := p.Verify(hash, "4821"); err != nil {
		t.Errorf("Verify(correct) error = %v", err)
	}
	if err := p.Verify(hash, "4822"); !errors.Is(err, ErrCredentialMismatch) {
		t.Errorf("Verify(wrong) error = %v, want ErrCredentialMismatch", err)
	}
	if err := p.Verify("not-a-hash", "4821"); err == nil || errors.Is(err, ErrCredentialMismatch) {
		t.Errorf("Verify(garbage hash) error = %v, want a non-mismatch error", err)
	}
}
