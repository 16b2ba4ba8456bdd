package domain

// Credential selects the registration path. It is either a
// PasswordCredential or a FederatedCredential.
type Credential interface {
	credential()
}

// PasswordCredential registers a new identity with email and password.
type PasswordCredential struct {
	Email    string
	Password string
}

// FederatedCredential signs in with an identity assertion issued by a
// trusted third party. The identity is created on first use.
type FederatedCredential struct {
	Token string
}

func (PasswordCredential) credential()  {}
func (FederatedCredential) credential() {}
