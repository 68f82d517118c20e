package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// webhookSecretLen is the truncated hex length of a derived secret.
const webhookSecretLen = 32

// WebhookSecrets derives per-tenant webhook secrets from a server-side salt.
// The secret is embedded in the tenant's callback URL and recomputed on each
// inbound delivery, so no secret table is needed. Derivation is stable for
// the life of the salt.
type WebhookSecrets struct {
	salt []byte
}

// NewWebhookSecrets creates a deriver with the given salt.
func NewWebhookSecrets(salt string) *WebhookSecrets {
	return &WebhookSecrets{salt: []byte(salt)}
}

// Derive returns the webhook secret for a tenant id.
func (w *WebhookSecrets) Derive(tenantID string) string {
	mac := hmac.New(sha256.New, w.salt)
	mac.Write([]byte(tenantID))
	return hex.EncodeToString(mac.Sum(nil))[:webhookSecretLen]
}

// Verify recomputes the secret and compares in constant time.
func (w *WebhookSecrets) Verify(tenantID, supplied string) bool {
	expected := w.Derive(tenantID)
	return hmac.Equal([]byte(expected), []byte(supplied))
}
