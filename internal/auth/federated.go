package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quizhub/accounts/internal/domain"
)

// FederatedClaims are the claims of an ID assertion issued by a trusted
// external identity provider.
type FederatedClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Assertion is a verified federated identity: the external subject within
// its issuer, plus the email it asserted.
type Assertion struct {
	Issuer  string
	Subject string
	Email   string
}

// FederatedVerifier verifies HS256 ID assertions from an allowlist of issuers.
type FederatedVerifier struct {
	secret   []byte
	issuers  map[string]struct{}
	audience string
	now      func() time.Time
}

// NewFederatedVerifier creates a verifier. An empty audience disables the
// audience check.
func NewFederatedVerifier(secret, audience string, issuers ...string) *FederatedVerifier {
	allowed := make(map[string]struct{}, len(issuers))
	for _, iss := range issuers {
		allowed[iss] = struct{}{}
	}
	return &FederatedVerifier{
		secret:   []byte(secret),
		issuers:  allowed,
		audience: audience,
		now:      time.Now,
	}
}

// Verify checks the signature, expiry, audience and issuer of token. All
// failures wrap domain.ErrInvalidToken.
func (v *FederatedVerifier) Verify(token string) (Assertion, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &FederatedClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*FederatedClaims)
	if !ok || !parsed.Valid {
		return Assertion{}, fmt.Errorf("%w: invalid claims", domain.ErrInvalidToken)
	}
	if _, trusted := v.issuers[claims.Issuer]; !trusted {
		return Assertion{}, fmt.Errorf("%w: untrusted issuer %q", domain.ErrInvalidToken, claims.Issuer)
	}
	if claims.Subject == "" || claims.Email == "" {
		return Assertion{}, fmt.Errorf("%w: subject and email are required", domain.ErrInvalidToken)
	}

	return Assertion{Issuer: claims.Issuer, Subject: claims.Subject, Email: claims.Email}, nil
}

// Issue signs an assertion with the verifier's secret. It is used by tests
// and by local development setups that stand in for the external provider.
func (v *FederatedVerifier) Issue(a Assertion, ttl time.Duration) (string, error) {
	now := v.now().UTC()
	claims := &FederatedClaims{
		Email:         a.Email,
		EmailVerified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.Issuer,
			Subject:   a.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign federated assertion: %w", err)
	}
	return signed, nil
}
