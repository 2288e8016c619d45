/*
 * Quilt MCP Server
 * Copyright (C) 2025  Quilt Data, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package auth implements the authentication and credential plane: bearer
// extraction, HS256 JWT validation against a secret resolved from the
// environment or the parameter store, and exchange of validated tokens for
// short-lived AWS credentials with single-flight caching.
package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// BearerFromHeader extracts the bearer token from an Authorization header
// value. Absence of a token is not an error; strict-mode enforcement
// happens later, per tool call.
func BearerFromHeader(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):]), true
	}
	return "", false
}

// RedactToken renders a token safe for diagnostics: only the first and
// last four characters may appear in logs.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// ValidatorConfig configures the JWT validator.
type ValidatorConfig struct {
	// Secret resolves the shared HS256 secret.
	Secret SecretSource
	// KeyID pins the token "kid" header; empty disables the check.
	KeyID string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Audience, when set, must be present in the token's aud claim.
	Audience string
	// Clock is used for expiry checks.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *ValidatorConfig) CheckAndSetDefaults() error {
	if c.Secret == nil {
		return trace.BadParameter("missing Secret")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Validator validates bearer tokens. Tokens are rejected if malformed,
// expired, signed with an algorithm other than HS256, or carrying a kid
// header that does not match the configured key id.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a Validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Validator{cfg: cfg}, nil
}

// Validate verifies the token and returns its decoded claims. All failures
// carry the AUTH_INVALID kind with a machine-readable reason.
func (v *Validator) Validate(ctx context.Context, token string) (*session.Claims, error) {
	secret, err := v.cfg.Secret.Get(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.cfg.Clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	var claims session.Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if v.cfg.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != v.cfg.KeyID {
				return nil, trace.AccessDenied("token key id %q does not match server key id", kid)
			}
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, authInvalid(err)
	}
	if !parsed.Valid {
		return nil, quilterr.New(quilterr.KindAuthInvalid, "token failed validation")
	}
	return &claims, nil
}

// authInvalid maps jwt parse failures onto AUTH_INVALID with a reason the
// client can branch on.
func authInvalid(err error) error {
	reason := "token rejected"
	switch {
	case strings.Contains(err.Error(), "token is expired"):
		reason = "token is expired"
	case strings.Contains(err.Error(), "signature is invalid"):
		reason = "token signature does not verify"
	case strings.Contains(err.Error(), "key id"):
		reason = "token signed with an unknown key id"
	case strings.Contains(err.Error(), "malformed"):
		reason = "token is malformed"
	}
	return quilterr.WrapWithKind(err, quilterr.KindAuthInvalid, "%s", reason).
		WithHint("run login to refresh the token")
}
