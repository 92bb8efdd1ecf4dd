package internal

import (
	"encoding/base64"
	"testing"
)

func TestNewTokenLengthAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("token is not base64url: %v", err)
		}
		if len(raw) != TokenSize {
			t.Fatalf("expected %d raw bytes, got %d", TokenSize, len(raw))
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestNewOTPDigits(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP: %v", err)
		}
		if !IsNumericCode(code, 6) {
			t.Fatalf("expected six digits, got %q", code)
		}
	}
}

func TestNewOTPRejectsBadDigits(t *testing.T) {
	if _, err := NewOTP(2); err == nil {
		t.Fatal("expected error for 2 digits")
	}
	if _, err := NewOTP(11); err == nil {
		t.Fatal("expected error for 11 digits")
	}
}

func TestIsNumericCode(t *testing.T) {
	cases := map[string]bool{
		"012345":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		"":        false,
		"１２３４５６": false,
	}
	for code, want := range cases {
		if got := IsNumericCode(code, 6); got != want {
			t.Fatalf("IsNumericCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestNewOTPKeepsLeadingZerosAtMaxWidth(t *testing.T) {
	code, err := NewOTP(10)
	if err != nil {
		t.Fatalf("NewOTP: %v", err)
	}
	if !IsNumericCode(code, 10) {
		t.Fatalf("expected ten digits, got %q", code)
	}
	if otpSpace[4].Int64() != 10000 || otpSpace[10].Int64() != 10000000000 {
		t.Fatalf("unexpected code spaces %v %v", otpSpace[4], otpSpace[10])
	}
}
