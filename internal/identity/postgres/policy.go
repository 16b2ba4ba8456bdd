package postgres

import (
	"fmt"
	"unicode"

	"github.com/quizhub/accounts/internal/domain"
)

// PasswordPolicy is the strength threshold for new passwords.
type PasswordPolicy struct {
	MinLength    int
	RequireUpper bool
	RequireLower bool
	RequireDigit bool
}

// DefaultPasswordPolicy requires six characters with mixed case and a digit.
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:    6,
	RequireUpper: true,
	RequireLower: true,
	RequireDigit: true,
}

// Check returns an error wrapping domain.ErrWeakPassword when password is
// below the threshold.
func (p PasswordPolicy) Check(password string) error {
	if len([]rune(password)) < p.MinLength {
		return fmt.Errorf("%w: at least %d characters required", domain.ErrWeakPassword, p.MinLength)
	}
	// bcrypt ignores everything past 72 bytes
	if len(password) > 72 {
		return fmt.Errorf("%w: at most 72 bytes allowed", domain.ErrWeakPassword)
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case p.RequireUpper && !upper:
		return fmt.Errorf("%w: an uppercase letter is required", domain.ErrWeakPassword)
	case p.RequireLower && !lower:
		return fmt.Errorf("%w: a lowercase letter is required", domain.ErrWeakPassword)
	case p.RequireDigit && !digit:
		return fmt.Errorf("%w: a digit is required", domain.ErrWeakPassword)
	}
	return nil
}
