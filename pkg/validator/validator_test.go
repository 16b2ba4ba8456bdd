package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupForm struct {
	Email    string `json:"email" validate:"required_without=Token,omitempty,email"`
	Password string `json:"password" validate:"excluded_with=Token"`
	Token    string `json:"token"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
	Country  string `json:"country" validate:"omitempty,len=2,alpha"`
}

func TestValidate_Success(t *testing.T) {
	err := Validate(signupForm{Email: "a@x.com", Password: "Str0ng!pw", Phone: "+15551234567", Country: "US"})
	assert.NoError(t, err)
}

func TestValidate_FieldMessages(t *testing.T) {
	err := Validate(signupForm{Email: "nope", Phone: "555", Country: "USA"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "must be a valid email address", fields["Email"])
	assert.Equal(t, "must be a phone number in E.164 format", fields["Phone"])
	assert.Equal(t, "must be exactly 2 characters", fields["Country"])
}

func TestValidate_TokenWithPasswordRejected(t *testing.T) {
	err := Validate(signupForm{Password: "Str0ng!pw", Token: "id-token"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields()["Password"], "must not be combined with")
}

func TestValidate_NeitherEmailNorToken(t *testing.T) {
	err := Validate(signupForm{})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "is required when Token is absent", valErr.Fields()["Email"])
}

func TestVar_Email(t *testing.T) {
	assert.NoError(t, Var("a@x.com", "required,email"))

	err := Var("a-at-x.com", "required,email")
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, err.Error(), "must be a valid email address")
}
