// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"
)

// Input constraints.
const (
	MinUsernameLength = 3
	MinPasswordLength = 5
)

// Field names used in validation errors. They match the request body keys.
const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldEmail    = "email"
)

// Validation messages.
const (
	msgUsernameTooShort = "Username must be at least 3 characters long"
	msgPasswordTooShort = "Password must be at least 5 characters long"
	msgPasswordBlank    = "Password cannot be blank"
	msgEmailInvalid     = "Enter a valid email"
	msgUsernameRequired = "Username is required for search"
)

// User is a stored account.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserView is the public projection of a User. It never carries the hash.
// CreatedAt is nil for projections that omit it.
type UserView struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// View returns the full projection including the creation time.
func (u *User) View() *UserView {
	created := u.CreatedAt
	return &UserView{
		ID:        u.ID.String(),
		Email:     u.Email,
		Username:  u.Username,
		CreatedAt: &created,
	}
}

// SearchView returns the projection used by username search.
func (u *User) SearchView() *UserView {
	return &UserView{
		ID:       u.ID.String(),
		Email:    u.Email,
		Username: u.Username,
	}
}

// UserRepository persists users. The store's unique constraints on username
// and email are authoritative; Create returns an error wrapping ErrConflict
// when either is violated. Lookups return an error wrapping ErrNotFound when
// no row matches.
type UserRepository interface {
	// FindByUsernameOrEmail returns the first user whose username or email matches.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*User, error)

	// FindByUsername returns the user with exactly this username.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// FindByID returns the user with this id.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// Create inserts a user, assigning its id and creation time.
	Create(ctx context.Context, username, email, passwordHash string) (*User, error)
}

// Normalize returns s in Unicode NFC so visually identical names compare equal.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

func validateRegistration(username, password, email string) error {
	verr := &ValidationError{}
	if utf8.RuneCountInString(username) < MinUsernameLength {
		verr.add(FieldUsername, msgUsernameTooShort)
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		verr.add(FieldPassword, msgPasswordTooShort)
	}
	if !ValidEmail(email) {
		verr.add(FieldEmail, msgEmailInvalid)
	}
	return verr.errOrNil()
}

func validateLogin(username, password string) error {
	verr := &ValidationError{}
	if utf8.RuneCountInString(username) < MinUsernameLength {
		verr.add(FieldUsername, msgUsernameTooShort)
	}
	if password == "" {
		verr.add(FieldPassword, msgPasswordBlank)
	}
	return verr.errOrNil()
}

// ValidEmail reports whether s is a bare addr-spec with a dotted domain.
// Display names ("Alice <a@x.com>") and surrounding whitespace are rejected.
func ValidEmail(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return false
	}
	domain := s[at+1:]
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}
