package venuel

import "testing"

func TestNewAuthParsesKeyAndDerivesAddress(t *testing.T) {
	t.Parallel()

	auth, err := NewAuth("0x1111111111111111111111111111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if auth.Address().Hex() == "" {
		t.Error("Address() is empty")
	}
}

func TestNewAuthAcceptsKeyWithoutPrefix(t *testing.T) {
	t.Parallel()

	withPrefix, err := NewAuth("0x2222222222222222222222222222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("NewAuth(with prefix): %v", err)
	}
	withoutPrefix, err := NewAuth("2222222222222222222222222222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("NewAuth(without prefix): %v", err)
	}
	if withPrefix.Address() != withoutPrefix.Address() {
		t.Error("same key with/without 0x prefix derived different addresses")
	}
}

func TestNewAuthRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	if _, err := NewAuth("not-a-hex-key"); err == nil {
		t.Error("expected error for invalid private key")
	}
}
