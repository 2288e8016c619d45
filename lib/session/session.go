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

// Package session holds the per-request context and the identity types that
// travel with it. A RequestContext is built by the transport when a request
// arrives, is immutable afterwards, and never outlives its request.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the decoded JWT claims attached to a request after successful
// validation. Roles, buckets and permissions are catalog-specific scopes.
type Claims struct {
	jwt.RegisteredClaims

	Roles       []string `json:"roles,omitempty"`
	Buckets     []string `json:"buckets,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	// AWS is an optional short-lived credential bundle embedded directly
	// in the token by the catalog.
	AWS *CredentialBundle `json:"aws,omitempty"`
}

// CredentialBundle is a set of short-lived AWS credentials.
type CredentialBundle struct {
	AccessKeyID     string    `json:"AccessKeyId"`
	SecretAccessKey string    `json:"SecretAccessKey"`
	SessionToken    string    `json:"SessionToken"`
	Expiration      time.Time `json:"Expiration"`
}

// Expired reports whether the bundle lapses before now+buffer.
func (b *CredentialBundle) Expired(now time.Time, buffer time.Duration) bool {
	if b.Expiration.IsZero() {
		return false
	}
	return !now.Add(buffer).Before(b.Expiration)
}

// RequestContext is the per-request state. It is created by the transport,
// consumed by the auth plane, the backend factory and the tool modules, and
// destroyed when the response is emitted. Cancellation travels in the
// regular context.Context alongside it.
type RequestContext struct {
	// RequestID identifies the request in logs and diagnostics.
	RequestID string
	// SessionID is the mcp-session-id header value, if any.
	SessionID string
	// Deployment is the resolved deployment mode name.
	Deployment string
	// Backend is the resolved backend kind name.
	Backend string
	// CatalogURL and RegistryURL are the resolved catalog targets.
	CatalogURL  string
	RegistryURL string
	// Token is the raw bearer token; empty when the request carried none.
	Token string
	// Claims are the validated JWT claims; nil when no token was present.
	Claims *Claims
	// Credentials is the AWS bundle resolved for this request; nil until
	// the auth plane performs the exchange.
	Credentials *CredentialBundle
}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// TokenHash returns a stable digest of the bearer token, used as part of
// the credential cache key. Never log the raw token.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Subject returns the JWT subject or empty when unauthenticated.
func (r *RequestContext) Subject() string {
	if r.Claims == nil {
		return ""
	}
	return r.Claims.Subject
}

// Authenticated reports whether validated claims are attached.
func (r *RequestContext) Authenticated() bool {
	return r.Claims != nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to a context.Context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext extracts the RequestContext placed by the transport; ok is
// false when the context does not carry one.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}
