// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements account registration, login and lookup.
//
// # Primitives
//
//   - Argon2idHasher - argon2id password hashing, with bcrypt verification for older rows
//   - HashPool - runs the hasher on a fixed set of workers
//   - TokenService - HS256 access tokens with a fixed lifetime
//
// # Services
//
//   - Service - Register and Login
//   - LookupService - GetByID and GetByUsername projections
//
// Services are created with New* constructors that validate dependencies.
// Persistence goes through UserRepository; the store's unique constraints are
// the source of truth for username and email uniqueness.
//
// # Errors
//
// Errors carry an oops code and wrap one of the package sentinels, so callers
// match them with errors.Is. Field-level input failures are a *ValidationError
// reachable with errors.As.
package auth
