// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/internal/auth/authtest"
	"github.com/holomush/accounts/pkg/errutil"
)

type fixture struct {
	svc      *auth.Service
	users    *authtest.MemoryUserRepository
	tokens   *auth.TokenService
	recorder *authtest.RecordingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pool, err := auth.NewHashPool(fastHasher(t), 2)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)

	users := authtest.NewMemoryUserRepository()
	recorder := &authtest.RecordingRecorder{}
	svc, err := auth.NewAuthService(users, pool, tokens, auth.WithOutcomeRecorder(recorder))
	require.NoError(t, err)

	return &fixture{svc: svc, users: users, tokens: tokens, recorder: recorder}
}

func TestNewAuthService_RequiresDependencies(t *testing.T) {
	users := authtest.NewMemoryUserRepository()
	hasher := &authtest.MockHasher{}
	tokens := &authtest.MockTokenIssuer{}

	tests := []struct {
		name   string
		build  func() (*auth.Service, error)
		errMsg string
	}{
		{"nil users", func() (*auth.Service, error) { return auth.NewAuthService(nil, hasher, tokens) }, "user repository is required"},
		{"nil hasher", func() (*auth.Service, error) { return auth.NewAuthService(users, nil, tokens) }, "password hasher is required"},
		{"nil tokens", func() (*auth.Service, error) { return auth.NewAuthService(users, hasher, nil) }, "token issuer is required"},
		{"nil logger", func() (*auth.Service, error) {
			return auth.NewAuthServiceWithLogger(users, hasher, tokens, nil)
		}, "logger is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := tt.build()
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRegister_ThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "alice", "password1", "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.NotEqual(t, "password1", user.PasswordHash)
	assert.False(t, user.CreatedAt.IsZero())

	result, err := f.svc.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Username)

	claims, err := f.tokens.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	assert.Equal(t, []string{auth.OutcomeSuccess}, f.recorder.Registrations)
	assert.Equal(t, []string{auth.OutcomeSuccess}, f.recorder.Logins)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		email    string
		fields   []string
	}{
		{"short username", "al", "password1", "alice@x.com", []string{"username"}},
		{"short password", "alice", "pass", "alice@x.com", []string{"password"}},
		{"invalid email", "alice", "password1", "not-an-email", []string{"email"}},
		{"all invalid", "a", "", "bad", []string{"username", "password", "email"}},
		{"username counts characters not bytes", "ñé", "password1", "alice@x.com", []string{"username"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.Register(context.Background(), tt.username, tt.password, tt.email)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "AUTH_VALIDATION_FAILED")
			assert.ErrorIs(t, err, auth.ErrValidation)

			var verr *auth.ValidationError
			require.ErrorAs(t, err, &verr)
			got := make([]string, 0, len(verr.Fields))
			for _, fe := range verr.Fields {
				got = append(got, fe.Field)
				assert.NotEmpty(t, fe.Message)
			}
			assert.Equal(t, tt.fields, got)
			assert.Equal(t, 0, f.users.Len())
			assert.Equal(t, []string{auth.OutcomeInvalid}, f.recorder.Registrations)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "password1", "alice@x.com")
	require.NoError(t, err)

	t.Run("same username", func(t *testing.T) {
		_, err := f.svc.Register(ctx, "alice", "other12", "other@x.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrDuplicateUser)
		errutil.AssertErrorCode(t, err, "AUTH_DUPLICATE_USER")
	})

	t.Run("same email", func(t *testing.T) {
		_, err := f.svc.Register(ctx, "bob", "password1", "alice@x.com")
		assert.ErrorIs(t, err, auth.ErrDuplicateUser)
	})

	t.Run("NFC and NFD spellings collide", func(t *testing.T) {
		_, err := f.svc.Register(ctx, "jos\u00e9", "password1", "jose@x.com")
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, "jose\u0301", "password1", "jose2@x.com")
		assert.ErrorIs(t, err, auth.ErrDuplicateUser)
	})

	assert.Equal(t, 2, f.users.Len())
}

func TestRegister_ConcurrentDuplicatesCreateOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Register(ctx, "alice", "password1", "alice@x.com")
		}()
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, auth.ErrDuplicateUser)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.users.Len())
}

func TestRegister_StoreConflictIsDuplicate(t *testing.T) {
	users := authtest.NewMockUserRepository(t)
	hasher := &authtest.MockHasher{}
	tokens := &authtest.MockTokenIssuer{}

	users.On("FindByUsernameOrEmail", mock.Anything, "alice", "alice@x.com").Return(nil, auth.ErrNotFound)
	hasher.On("Hash", mock.Anything, "password1").Return("hash", nil)
	users.On("Create", mock.Anything, "alice", "alice@x.com", "hash").
		Return(nil, oops.Code("USER_CONFLICT").Wrap(auth.ErrConflict))

	svc, err := auth.NewAuthService(users, hasher, tokens)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "alice", "password1", "alice@x.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrDuplicateUser)
	errutil.AssertErrorCode(t, err, "AUTH_DUPLICATE_USER")
}

func TestRegister_InternalFailures(t *testing.T) {
	dbErr := errors.New("connection refused")

	tests := []struct {
		name  string
		setup func(users *authtest.MockUserRepository, hasher *authtest.MockHasher)
		op    string
	}{
		{
			name: "lookup fails",
			setup: func(users *authtest.MockUserRepository, _ *authtest.MockHasher) {
				users.On("FindByUsernameOrEmail", mock.Anything, "alice", "alice@x.com").Return(nil, dbErr)
			},
			op: "find existing user",
		},
		{
			name: "hashing fails",
			setup: func(users *authtest.MockUserRepository, hasher *authtest.MockHasher) {
				users.On("FindByUsernameOrEmail", mock.Anything, "alice", "alice@x.com").Return(nil, auth.ErrNotFound)
				hasher.On("Hash", mock.Anything, "password1").Return("", auth.ErrPoolClosed)
			},
			op: "hash password",
		},
		{
			name: "insert fails",
			setup: func(users *authtest.MockUserRepository, hasher *authtest.MockHasher) {
				users.On("FindByUsernameOrEmail", mock.Anything, "alice", "alice@x.com").Return(nil, auth.ErrNotFound)
				hasher.On("Hash", mock.Anything, "password1").Return("hash", nil)
				users.On("Create", mock.Anything, "alice", "alice@x.com", "hash").Return(nil, dbErr)
			},
			op: "create user",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := authtest.NewMockUserRepository(t)
			hasher := &authtest.MockHasher{}
			tt.setup(users, hasher)

			svc, err := auth.NewAuthService(users, hasher, &authtest.MockTokenIssuer{})
			require.NoError(t, err)

			_, err = svc.Register(context.Background(), "alice", "password1", "alice@x.com")
			require.Error(t, err)
			assert.NotErrorIs(t, err, auth.ErrDuplicateUser)
			errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
			errutil.AssertErrorContext(t, err, "operation", tt.op)
		})
	}
}

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "password1", "alice@x.com")
	require.NoError(t, err)

	_, wrongPassword := f.svc.Login(ctx, "alice", "wrong")
	_, unknownUser := f.svc.Login(ctx, "nobody", "password1")

	require.Error(t, wrongPassword)
	require.Error(t, unknownUser)
	assert.ErrorIs(t, wrongPassword, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, auth.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
	errutil.AssertErrorCode(t, wrongPassword, "AUTH_INVALID_CREDENTIALS")
	errutil.AssertErrorCode(t, unknownUser, "AUTH_INVALID_CREDENTIALS")

	assert.Equal(t, []string{auth.OutcomeInvalidCredentials, auth.OutcomeInvalidCredentials}, f.recorder.Logins)
}

func TestLogin_UnknownUserStillVerifies(t *testing.T) {
	users := authtest.NewMockUserRepository(t)
	hasher := &authtest.MockHasher{}
	users.On("FindByUsername", mock.Anything, "nobody").Return(nil, auth.ErrNotFound)
	hasher.On("Verify", mock.Anything, "password1", mock.AnythingOfType("string")).Return(false, nil).Once()

	svc, err := auth.NewAuthService(users, hasher, &authtest.MockTokenIssuer{})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "nobody", "password1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	hasher.AssertExpectations(t)
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		username string
		password string
		fields   []string
	}{
		{"short username", "al", "password1", []string{"username"}},
		{"blank password", "alice", "", []string{"password"}},
		{"both", "", "", []string{"username", "password"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tt.username, tt.password)
			var verr *auth.ValidationError
			require.ErrorAs(t, err, &verr)
			for _, field := range tt.fields {
				assert.True(t, verr.Has(field), "expected %s to fail", field)
			}
			assert.Len(t, verr.Fields, len(tt.fields))
		})
	}
}

func TestLogin_LegacyBcryptHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Rows migrated from the previous service carry bcrypt hashes.
	legacy, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = f.users.Create(ctx, "legacy", "legacy@x.com", string(legacy))
	require.NoError(t, err)

	result, err := f.svc.Login(ctx, "legacy", "password1")
	require.NoError(t, err)
	assert.Equal(t, "legacy", result.Username)

	_, err = f.svc.Login(ctx, "legacy", "not-the-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLogin_InternalFailures(t *testing.T) {
	id := ulid.Make()
	stored := &auth.User{ID: id, Username: "alice", PasswordHash: "hash"}

	t.Run("lookup fails", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		users.On("FindByUsername", mock.Anything, "alice").Return(nil, errors.New("connection refused"))

		svc, err := auth.NewAuthService(users, &authtest.MockHasher{}, &authtest.MockTokenIssuer{})
		require.NoError(t, err)

		_, err = svc.Login(context.Background(), "alice", "password1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
	})

	t.Run("stored hash is corrupt", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		hasher := &authtest.MockHasher{}
		users.On("FindByUsername", mock.Anything, "alice").Return(stored, nil)
		hasher.On("Verify", mock.Anything, "password1", "hash").
			Return(false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format"))

		svc, err := auth.NewAuthService(users, hasher, &authtest.MockTokenIssuer{})
		require.NoError(t, err)

		_, err = svc.Login(context.Background(), "alice", "password1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
		errutil.AssertErrorContext(t, err, "operation", "verify password")
	})

	t.Run("token issue fails", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		hasher := &authtest.MockHasher{}
		tokens := &authtest.MockTokenIssuer{}
		users.On("FindByUsername", mock.Anything, "alice").Return(stored, nil)
		hasher.On("Verify", mock.Anything, "password1", "hash").Return(true, nil)
		tokens.On("Issue", id.String(), "alice").Return("", errors.New("sign failed"))

		svc, err := auth.NewAuthService(users, hasher, tokens)
		require.NoError(t, err)

		_, err = svc.Login(context.Background(), "alice", "password1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "issue token")
	})
}

func TestService_NeverLogsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := auth.NewHashPool(fastHasher(t), 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	tokens, err := auth.NewTokenService(testSecret, auth.WithTokenTTL(time.Minute))
	require.NoError(t, err)

	svc, err := auth.NewAuthServiceWithLogger(authtest.NewMemoryUserRepository(), pool, tokens, logger)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Register(ctx, "alice", "s3cret-pass", "alice@x.com")
	require.NoError(t, err)
	result, err := svc.Login(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "user registered")
	errutil.AssertNoSecrets(t, out, "s3cret-pass", user.PasswordHash, result.Token, string(testSecret))
}
