// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// LookupService serves read-only user projections.
type LookupService struct {
	users  UserRepository
	logger *slog.Logger
}

// NewLookupService creates a LookupService.
func NewLookupService(users UserRepository) (*LookupService, error) {
	return NewLookupServiceWithLogger(users, slog.New(slog.DiscardHandler))
}

// NewLookupServiceWithLogger creates a LookupService that logs to logger.
func NewLookupServiceWithLogger(users UserRepository, logger *slog.Logger) (*LookupService, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &LookupService{users: users, logger: logger}, nil
}

// GetByID returns {id, email, username, createdAt} for the user.
func (s *LookupService) GetByID(ctx context.Context, id ulid.ULID) (*UserView, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").With("user_id", id.String()).Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "find user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user.View(), nil
}

// GetByUsername returns {id, email, username} for an exact username match.
func (s *LookupService) GetByUsername(ctx context.Context, username string) (*UserView, error) {
	if username == "" {
		verr := &ValidationError{}
		verr.add(FieldUsername, msgUsernameRequired)
		return nil, oops.Code("AUTH_VALIDATION_FAILED").Wrap(verr)
	}
	username = Normalize(username)

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "username search missed", "username", username)
			return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "find user by username").
			With("username", username).
			Wrap(err)
	}
	return user.SearchView(), nil
}
