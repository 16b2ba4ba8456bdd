// Package remote is an identity provider that delegates to an identity
// toolkit REST API (accounts:signUp, accounts:signInWithIdp and
// accounts:lookup).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/pkg/httpclient"
)

const serviceName = "identity-toolkit"

// Provider error reasons and the domain errors they map to.
var reasonErrors = map[string]error{
	"EMAIL_EXISTS":         domain.ErrEmailTaken,
	"WEAK_PASSWORD":        domain.ErrWeakPassword,
	"INVALID_EMAIL":        domain.ErrMalformedEmail,
	"MISSING_EMAIL":        domain.ErrMalformedEmail,
	"INVALID_IDP_RESPONSE": domain.ErrInvalidToken,
	"INVALID_ID_TOKEN":     domain.ErrInvalidToken,
	"USER_NOT_FOUND":       domain.ErrIdentityNotFound,
}

// Config configures the remote provider.
type Config struct {
	BaseURL string
	APIKey  string
	// ProviderID names the external provider whose ID tokens are exchanged
	// by SignInFederated, e.g. "google.com".
	ProviderID string
	// RequestURI is echoed to the toolkit on federated sign-in.
	RequestURI string
}

// IdentityProvider implements provisioning.IdentityProvider over HTTP.
type IdentityProvider struct {
	client httpclient.Doer
	cfg    Config
}

// NewIdentityProvider creates a remote identity provider. client is
// typically a *httpclient.CircuitBreakerClient.
func NewIdentityProvider(client httpclient.Doer, cfg Config) *IdentityProvider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestURI == "" {
		cfg.RequestURI = "http://localhost"
	}
	return &IdentityProvider{client: client, cfg: cfg}
}

type signUpRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInWithIdpRequest struct {
	PostBody          string `json:"postBody"`
	RequestURI        string `json:"requestUri"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type lookupRequest struct {
	LocalID []string `json:"localId"`
}

type accountResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
}

type lookupResponse struct {
	Users []accountResponse `json:"users"`
}

// CreateIdentity registers an email/password account.
func (p *IdentityProvider) CreateIdentity(ctx context.Context, email, password string) (domain.Identity, error) {
	var out accountResponse
	if err := p.call(ctx, "accounts:signUp", signUpRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &out); err != nil {
		return domain.Identity{}, fmt.Errorf("sign up: %w", err)
	}
	return toIdentity(out, email)
}

// SignInFederated exchanges an external ID token for an account, creating
// it on first sign-in.
func (p *IdentityProvider) SignInFederated(ctx context.Context, token string) (domain.Identity, error) {
	postBody := url.Values{"id_token": {token}, "providerId": {p.cfg.ProviderID}}.Encode()

	var out accountResponse
	if err := p.call(ctx, "accounts:signInWithIdp", signInWithIdpRequest{
		PostBody:          postBody,
		RequestURI:        p.cfg.RequestURI,
		ReturnSecureToken: true,
	}, &out); err != nil {
		return domain.Identity{}, fmt.Errorf("sign in with idp: %w", err)
	}
	return toIdentity(out, "")
}

// GetIdentity looks up an account by its ID.
func (p *IdentityProvider) GetIdentity(ctx context.Context, id string) (domain.Identity, error) {
	var out lookupResponse
	if err := p.call(ctx, "accounts:lookup", lookupRequest{LocalID: []string{id}}, &out); err != nil {
		return domain.Identity{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	if len(out.Users) == 0 {
		return domain.Identity{}, fmt.Errorf("lookup %s: %w", id, domain.ErrIdentityNotFound)
	}
	return toIdentity(out.Users[0], "")
}

func (p *IdentityProvider) call(ctx context.Context, method string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/%s?key=%s", p.cfg.BaseURL, method, url.QueryEscape(p.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return mapError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mapError(httpclient.ParseResponseError(resp, serviceName))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// mapError attaches the domain error matching the provider's reason code,
// keeping the response error in the chain.
func mapError(err error) error {
	var rerr *httpclient.ResponseError
	if !errors.As(err, &rerr) {
		return err
	}
	if derr, ok := reasonErrors[rerr.Reason()]; ok {
		return fmt.Errorf("%w: %w", derr, rerr)
	}
	return err
}

func toIdentity(acc accountResponse, fallbackEmail string) (domain.Identity, error) {
	if acc.LocalID == "" {
		return domain.Identity{}, fmt.Errorf("%s returned an account without localId", serviceName)
	}
	email := acc.Email
	if email == "" {
		email = fallbackEmail
	}
	return domain.Identity{ID: acc.LocalID, Email: email}, nil
}
