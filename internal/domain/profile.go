package domain

import "time"

// DefaultLanguage is applied when a registration carries no language preference.
const DefaultLanguage = "en"

// Address is the postal address part of a profile.
type Address struct {
	Street  string `json:"street" validate:"max=200"`
	City    string `json:"city" validate:"max=100"`
	State   string `json:"state" validate:"max=100"`
	ZipCode string `json:"zipCode" validate:"max=20"`
	Country string `json:"country" validate:"omitempty,len=2,alpha"`
}

// Preferences holds user-selectable settings.
type Preferences struct {
	Language             string `json:"language" validate:"omitempty,min=2,max=5"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// ProfileFields is the caller-supplied part of a profile.
type ProfileFields struct {
	FirstName   string      `json:"firstName" validate:"required,max=100"`
	LastName    string      `json:"lastName" validate:"required,max=100"`
	PhoneNumber string      `json:"phoneNumber" validate:"omitempty,e164"`
	Address     Address     `json:"address"`
	Preferences Preferences `json:"preferences"`
}

// Rewards are the gamification counters of a profile. A new profile starts
// with every counter at zero.
type Rewards struct {
	TotalPoints      int `json:"totalPoints"`
	QuizzesCompleted int `json:"quizzesCompleted"`
	QuizzesCreated   int `json:"quizzesCreated"`
	CurrentStreak    int `json:"currentStreak"`
}

// ProfileRecord is the stored profile document, keyed by IdentityRef.
type ProfileRecord struct {
	IdentityRef string      `json:"identityRef"`
	Email       string      `json:"email"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	PhoneNumber string      `json:"phoneNumber"`
	Address     Address     `json:"address"`
	Rewards     Rewards     `json:"rewards"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// NewProfileRecord builds the initial profile for identity. Timestamps are
// UTC and truncated to microseconds so they survive a round trip through
// PostgreSQL unchanged.
func NewProfileRecord(identity Identity, fields ProfileFields, now time.Time) ProfileRecord {
	now = now.UTC().Truncate(time.Microsecond)

	prefs := fields.Preferences
	if prefs.Language == "" {
		prefs.Language = DefaultLanguage
	}

	return ProfileRecord{
		IdentityRef: identity.ID,
		Email:       identity.Email,
		FirstName:   fields.FirstName,
		LastName:    fields.LastName,
		PhoneNumber: fields.PhoneNumber,
		Address:     fields.Address,
		Rewards:     Rewards{},
		Preferences: prefs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
