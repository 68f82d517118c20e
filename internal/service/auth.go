package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bleam/bridge/internal/config"
	"github.com/bleam/bridge/internal/domain"
)

// tokenKindService is the only token kind accepted on the control surface.
const tokenKindService = "service"

// serviceClaims is the claim set carried by a service-to-service token.
type serviceClaims struct {
	Subject   string `json:"sub"`
	Service   string `json:"service,omitempty"`
	TokenKind string `json:"token_type"`
	IssuedAt  int64  `json:"iat"`
	Expiry    int64  `json:"exp"`
}

// ServiceAuth issues and verifies short-lived HS256 service tokens. It gates
// the control surface and authenticates this service's own calls to the
// upstream platform directory.
type ServiceAuth struct {
	name   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time // for testing
}

// NewServiceAuth creates a ServiceAuth from the auth config.
func NewServiceAuth(cfg config.Auth) *ServiceAuth {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ServiceAuth{
		name:   cfg.ServiceName,
		secret: []byte(cfg.ServiceSecret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// jwtHeader is the fixed base64url-encoded header for HS256.
var jwtHeader = base64URLEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Issue produces a signed service token for this service's identity.
func (a *ServiceAuth) Issue() (string, error) {
	now := a.now()
	claims := serviceClaims{
		Subject:   a.name,
		Service:   a.name,
		TokenKind: tokenKindService,
		IssuedAt:  now.Unix(),
		Expiry:    now.Add(a.ttl).Unix(),
	}
	return a.sign(claims)
}

// Verify checks a service token and returns the caller's declared identity.
// Missing, malformed, expired, mis-signed, and wrong-kind tokens all fail
// with the same domain.ErrUnauthorized.
func (a *ServiceAuth) Verify(token string) (string, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return "", domain.ErrUnauthorized
	}

	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(signingInput))
	expectedSig := base64URLEncode(mac.Sum(nil))

	if !hmac.Equal([]byte(parts[2]), []byte(expectedSig)) {
		return "", domain.ErrUnauthorized
	}

	payload, err := base64URLDecode(parts[1])
	if err != nil {
		return "", domain.ErrUnauthorized
	}

	var claims serviceClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", domain.ErrUnauthorized
	}

	if a.now().Unix() > claims.Expiry {
		return "", domain.ErrUnauthorized
	}
	if claims.TokenKind != tokenKindService {
		return "", domain.ErrUnauthorized
	}

	caller := claims.Service
	if caller == "" {
		caller = claims.Subject
	}
	return caller, nil
}

func (a *ServiceAuth) sign(claims serviceClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := jwtHeader + "." + base64URLEncode(payload)

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(signingInput))
	sig := base64URLEncode(mac.Sum(nil))

	return signingInput + "." + sig, nil
}

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(s string) ([]byte, error) {
	// Add padding back
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}
