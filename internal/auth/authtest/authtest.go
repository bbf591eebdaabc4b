// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides test doubles for the auth package.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/accounts/internal/auth"
)

// MemoryUserRepository is a UserRepository backed by a map. It enforces the
// same uniqueness rules as the SQL schema.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User
	now   func() time.Time
}

// NewMemoryUserRepository creates an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[ulid.ULID]*auth.User),
		now:   time.Now,
	}
}

// Len returns the number of stored users.
func (r *MemoryUserRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// FindByUsernameOrEmail returns a user matching either field.
func (r *MemoryUserRepository) FindByUsernameOrEmail(_ context.Context, username, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username || u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// FindByUsername returns the user with this exact username.
func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// FindByID returns the user with this id.
func (r *MemoryUserRepository) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *u
	return &c, nil
}

// Create stores a user or returns an error wrapping auth.ErrConflict.
func (r *MemoryUserRepository) Create(_ context.Context, username, email, passwordHash string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return nil, oops.Code("USER_CONFLICT").With("constraint", "users_username_key").Wrap(auth.ErrConflict)
		}
		if u.Email == email {
			return nil, oops.Code("USER_CONFLICT").With("constraint", "users_email_key").Wrap(auth.ErrConflict)
		}
	}
	u := &auth.User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    r.now().UTC(),
	}
	r.users[u.ID] = u
	c := *u
	return &c, nil
}

// MockUserRepository is a testify mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock that asserts its expectations on cleanup.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUserRepository {
	m := &MockUserRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// FindByUsernameOrEmail implements auth.UserRepository.
func (m *MockUserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*auth.User, error) {
	args := m.Called(ctx, username, email)
	return userArg(args, 0), args.Error(1)
}

// FindByUsername implements auth.UserRepository.
func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	args := m.Called(ctx, username)
	return userArg(args, 0), args.Error(1)
}

// FindByID implements auth.UserRepository.
func (m *MockUserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	return userArg(args, 0), args.Error(1)
}

// Create implements auth.UserRepository.
func (m *MockUserRepository) Create(ctx context.Context, username, email, passwordHash string) (*auth.User, error) {
	args := m.Called(ctx, username, email, passwordHash)
	return userArg(args, 0), args.Error(1)
}

func userArg(args mock.Arguments, i int) *auth.User {
	if u, ok := args.Get(i).(*auth.User); ok {
		return u
	}
	return nil
}

// MockHasher is a testify mock of auth.Hasher.
type MockHasher struct {
	mock.Mock
}

// Hash implements auth.Hasher.
func (m *MockHasher) Hash(ctx context.Context, password string) (string, error) {
	args := m.Called(ctx, password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.Hasher.
func (m *MockHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	args := m.Called(ctx, password, hash)
	return args.Bool(0), args.Error(1)
}

// MockTokenIssuer is a testify mock of auth.TokenIssuer.
type MockTokenIssuer struct {
	mock.Mock
}

// Issue implements auth.TokenIssuer.
func (m *MockTokenIssuer) Issue(userID, username string) (string, error) {
	args := m.Called(userID, username)
	return args.String(0), args.Error(1)
}

// RecordingRecorder collects outcomes passed to an auth.OutcomeRecorder.
type RecordingRecorder struct {
	mu            sync.Mutex
	Registrations []string
	Logins        []string
}

// RecordRegistration implements auth.OutcomeRecorder.
func (r *RecordingRecorder) RecordRegistration(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Registrations = append(r.Registrations, outcome)
}

// RecordLogin implements auth.OutcomeRecorder.
func (r *RecordingRecorder) RecordLogin(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logins = append(r.Logins, outcome)
}
