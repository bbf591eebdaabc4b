// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the account services as JSON over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/pkg/errutil"
)

// Response messages.
const (
	MsgRegistered        = "User registered successfully"
	MsgLoggedIn          = "User logged in successfully"
	MsgUserFound         = "User found"
	MsgDuplicate         = "Username or Email already taken"
	MsgInvalidBody       = "Invalid request body"
	MsgInternal          = "Internal server error"
	MsgInvalidLogin      = "Invalid username or password"
	MsgUnauthenticated   = "Please authenticate using a valid token"
	MsgUserNotFound      = "User not found"
	MsgAccountNotFound   = "Account Not Found"
	MsgUsernameRequired  = "Username is required for search"
	Banner               = "This is a test web page!"
	maxRequestBodyBytes  = 1 << 20
	defaultOperationName = "accounts.http"
)

// AccountService registers and authenticates users.
type AccountService interface {
	Register(ctx context.Context, username, password, email string) (*auth.User, error)
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
}

// UserFinder looks up public user projections.
type UserFinder interface {
	GetByID(ctx context.Context, id ulid.ULID) (*auth.UserView, error)
	GetByUsername(ctx context.Context, username string) (*auth.UserView, error)
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RequestRecorder observes finished requests.
type RequestRecorder interface {
	RecordHTTPRequest(route string, status int, elapsed time.Duration)
}

// Config wires the handler's collaborators. Accounts, Users and Tokens are
// required.
type Config struct {
	Accounts       AccountService
	Users          UserFinder
	Tokens         TokenVerifier
	Logger         *slog.Logger
	Recorder       RequestRecorder
	AllowedOrigins []string
}

type api struct {
	accounts AccountService
	users    UserFinder
	tokens   TokenVerifier
	logger   *slog.Logger
}

// NewHandler returns the full HTTP handler: routes wrapped in CORS, request
// logging and metrics, and an OpenTelemetry server span.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Accounts == nil {
		return nil, oops.Errorf("account service is required")
	}
	if cfg.Users == nil {
		return nil, oops.Errorf("user finder is required")
	}
	if cfg.Tokens == nil {
		return nil, oops.Errorf("token verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cors, err := newCORS(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	a := &api{
		accounts: cfg.Accounts,
		users:    cfg.Users,
		tokens:   cfg.Tokens,
		logger:   logger,
	}

	var h http.Handler = a.routes()
	h = cors.wrap(h)
	h = observe(h, logger, cfg.Recorder)
	return otelhttp.NewHandler(h, defaultOperationName), nil
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleBanner)
	mux.HandleFunc("POST /register", a.handleRegister)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.Handle("POST /getuser", a.requireToken(http.HandlerFunc(a.handleGetUser)))
	mux.HandleFunc("GET /getusername", a.handleGetUsername)
	return mux
}

func handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	io.WriteString(w, Banner)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type registerResponse struct {
	Message string         `json:"message"`
	User    *auth.UserView `json:"user"`
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := a.accounts.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		var verr *auth.ValidationError
		switch {
		case errors.As(err, &verr):
			writeValidationErrors(w, verr)
		case errors.Is(err, auth.ErrDuplicateUser):
			writeError(w, http.StatusBadRequest, MsgDuplicate)
		default:
			a.internalError(w, r, "register failed", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{Message: MsgRegistered, User: user.View()})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message  string `json:"message"`
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := a.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		var verr *auth.ValidationError
		switch {
		case errors.As(err, &verr):
			writeValidationErrors(w, verr)
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, MsgInvalidLogin)
		default:
			a.internalError(w, r, "login failed", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Message: MsgLoggedIn, Token: res.Token, Username: res.Username})
}

func (a *api) handleGetUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, MsgUnauthenticated)
		return
	}
	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, MsgUnauthenticated)
		return
	}

	view, err := a.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, MsgUserNotFound)
			return
		}
		a.internalError(w, r, "get user failed", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

type searchResponse struct {
	Message string         `json:"message"`
	User    *auth.UserView `json:"user"`
}

func (a *api) handleGetUsername(w http.ResponseWriter, r *http.Request) {
	view, err := a.users.GetByUsername(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrValidation):
			writeError(w, http.StatusBadRequest, MsgUsernameRequired)
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(w, http.StatusNotFound, MsgAccountNotFound)
		default:
			a.internalError(w, r, "search user failed", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{Message: MsgUserFound, User: view})
}

// internalError logs err with its code and context and answers with the
// generic 500 body.
func (a *api) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	errutil.LogErrorContext(r.Context(), a.logger, msg, err)
	writeError(w, http.StatusInternalServerError, MsgInternal)
}
