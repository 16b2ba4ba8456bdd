package domain

import "errors"

// Request shape errors returned by NewRegistrationRequest and Validate.
var (
	ErrMissingCredential = errors.New("either email and password or a federated token is required")
	ErrMixedCredential   = errors.New("a federated token cannot be combined with a password")
)

// RegistrationRequest is the input of the provisioning workflow.
type RegistrationRequest struct {
	Credential Credential
	Profile    ProfileFields
}

// NewRegistrationRequest picks the credential variant from the raw request
// fields: a token selects the federated path, email plus password the
// password path. Any other combination is rejected.
func NewRegistrationRequest(email, password, token string, profile ProfileFields) (RegistrationRequest, error) {
	req := RegistrationRequest{Profile: profile}
	switch {
	case token != "" && password != "":
		return req, ErrMixedCredential
	case token != "":
		req.Credential = FederatedCredential{Token: token}
	case email != "" && password != "":
		req.Credential = PasswordCredential{Email: email, Password: password}
	default:
		return req, ErrMissingCredential
	}
	return req, nil
}

// Validate checks the credential shape invariant.
func (r RegistrationRequest) Validate() error {
	switch c := r.Credential.(type) {
	case PasswordCredential:
		if c.Email == "" || c.Password == "" {
			return ErrMissingCredential
		}
	case FederatedCredential:
		if c.Token == "" {
			return ErrMissingCredential
		}
	default:
		return ErrMissingCredential
	}
	return nil
}

// Email returns the email of a password registration, or "".
func (r RegistrationRequest) Email() string {
	if c, ok := r.Credential.(PasswordCredential); ok {
		return c.Email
	}
	return ""
}

// Federated reports whether the request takes the federated path.
func (r RegistrationRequest) Federated() bool {
	_, ok := r.Credential.(FederatedCredential)
	return ok
}
