// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// Hasher is the context-aware hashing surface the services depend on.
// HashPool implements it.
type Hasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
}

// TokenIssuer issues access tokens.
type TokenIssuer interface {
	Issue(userID, username string) (string, error)
}

// OutcomeRecorder counts service outcomes. A nil recorder is ignored.
type OutcomeRecorder interface {
	RecordRegistration(outcome string)
	RecordLogin(outcome string)
}

// Outcome labels passed to OutcomeRecorder.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalid            = "invalid"
	OutcomeDuplicate          = "duplicate"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeError              = "error"
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token    string
	Username string
}

// Service registers users and logs them in.
type Service struct {
	users    UserRepository
	hasher   Hasher
	tokens   TokenIssuer
	recorder OutcomeRecorder
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOutcomeRecorder attaches a metrics recorder.
func WithOutcomeRecorder(r OutcomeRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// NewAuthService creates a new Service.
func NewAuthService(users UserRepository, hasher Hasher, tokens TokenIssuer, opts ...ServiceOption) (*Service, error) {
	return NewAuthServiceWithLogger(users, hasher, tokens, slog.New(slog.DiscardHandler), opts...)
}

// NewAuthServiceWithLogger creates a new Service that logs to logger.
func NewAuthServiceWithLogger(
	users UserRepository,
	hasher Hasher,
	tokens TokenIssuer,
	logger *slog.Logger,
	opts ...ServiceOption,
) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	s := &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dummyPasswordHash is verified when the user does not exist so that unknown
// usernames cost the same as wrong passwords. It matches no password.
//
//nolint:gosec // G101: not a credential
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register validates the input, hashes the password and stores a new user.
// Every invalid field is reported in a single *ValidationError. An existing
// username or email, including one inserted concurrently, yields
// ErrDuplicateUser.
func (s *Service) Register(ctx context.Context, username, password, email string) (*User, error) {
	username, email = Normalize(username), Normalize(email)

	if err := validateRegistration(username, password, email); err != nil {
		s.recordRegistration(OutcomeInvalid)
		return nil, oops.Code("AUTH_VALIDATION_FAILED").Wrap(err)
	}

	existing, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil && existing != nil:
		s.recordRegistration(OutcomeDuplicate)
		return nil, oops.Code("AUTH_DUPLICATE_USER").With("username", username).Wrap(ErrDuplicateUser)
	case err != nil && !errors.Is(err, ErrNotFound):
		s.recordRegistration(OutcomeError)
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "find existing user").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		s.recordRegistration(OutcomeError)
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := s.users.Create(ctx, username, email, hash)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost the race against a concurrent registration.
			s.logger.DebugContext(ctx, "registration conflict at insert", "username", username)
			s.recordRegistration(OutcomeDuplicate)
			return nil, oops.Code("AUTH_DUPLICATE_USER").With("username", username).Wrap(ErrDuplicateUser)
		}
		s.recordRegistration(OutcomeError)
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.recordRegistration(OutcomeSuccess)
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String(), "username", user.Username)
	return user, nil
}

// Login verifies the credentials and issues an access token. Unknown
// usernames and wrong passwords return the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = Normalize(username)

	if err := validateLogin(username, password); err != nil {
		s.recordLogin(OutcomeInvalid)
		return nil, oops.Code("AUTH_VALIDATION_FAILED").Wrap(err)
	}

	user, lookupErr := s.users.FindByUsername(ctx, username)

	var targetHash string
	userExists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = dummyPasswordHash
	default:
		s.recordLogin(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find user by username").
			Wrap(lookupErr)
	}

	// Always verify so both failure paths take the same time.
	valid, verifyErr := s.hasher.Verify(ctx, password, targetHash)
	if verifyErr != nil && userExists {
		s.recordLogin(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		s.recordLogin(OutcomeInvalidCredentials)
		return nil, invalidCredentials()
	}

	token, err := s.tokens.Issue(user.ID.String(), user.Username)
	if err != nil {
		s.recordLogin(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.recordLogin(OutcomeSuccess)
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return &LoginResult{Token: token, Username: user.Username}, nil
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
}

func (s *Service) recordRegistration(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordRegistration(outcome)
	}
}

func (s *Service) recordLogin(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(outcome)
	}
}
