package service

import "testing"

func TestWebhookSecrets_Derive(t *testing.T) {
	secrets := NewWebhookSecrets("test-salt")

	a := secrets.Derive("12345")
	b := secrets.Derive("12345")
	if a != b {
		t.Errorf("derivation is not deterministic: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("secret length = %d, want 32", len(a))
	}
	for _, r := range a {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("secret %q contains non-hex rune %q", a, r)
		}
	}

	if other := secrets.Derive("67890"); other == a {
		t.Error("different tenants derived the same secret")
	}
}

func TestWebhookSecrets_SaltSensitivity(t *testing.T) {
	a := NewWebhookSecrets("salt-one").Derive("12345")
	b := NewWebhookSecrets("salt-two").Derive("12345")
	if a == b {
		t.Error("different salts derived the same secret")
	}
}

func TestWebhookSecrets_Verify(t *testing.T) {
	secrets := NewWebhookSecrets("test-salt")

	good := secrets.Derive("12345")
	if !secrets.Verify("12345", good) {
		t.Error("correct secret rejected")
	}
	if secrets.Verify("12345", "00000000000000000000000000000000") {
		t.Error("wrong secret accepted")
	}
	if secrets.Verify("12345", "") {
		t.Error("empty secret accepted")
	}
	if secrets.Verify("67890", good) {
		t.Error("secret accepted for the wrong tenant")
	}
}
