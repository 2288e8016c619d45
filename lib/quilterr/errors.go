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

// Package quilterr defines the stable error kinds exposed to MCP clients and
// the single edge mapping from low-level errors (trace, AWS SDK, catalog
// HTTP) into the structured failure envelope. Inside the process errors
// travel wrapped with trace; they are converted exactly once, at the tool
// dispatch boundary.
package quilterr

import (
	"errors"
	"fmt"
)

// Kind is a stable error identifier exposed verbatim in the envelope.
type Kind string

const (
	// KindAuthInvalid means the JWT is malformed, expired or signed with
	// the wrong key.
	KindAuthInvalid Kind = "AUTH_INVALID"
	// KindAuthNoCredentials means strict mode is on and no usable
	// credentials could be resolved.
	KindAuthNoCredentials Kind = "AUTH_NO_CREDENTIALS"
	// KindPermissionDenied means AWS or the catalog refused the action.
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	// KindNotFound means the package, object, database or table is absent.
	KindNotFound Kind = "NOT_FOUND"
	// KindConfigInvalid means startup configuration was rejected.
	KindConfigInvalid Kind = "CONFIG_INVALID"
	// KindProtocolMismatch means the MCP version header is missing or
	// unsupported.
	KindProtocolMismatch Kind = "PROTOCOL_MISMATCH"
	// KindMethodNotFound means the RPC method or tool action is unknown.
	KindMethodNotFound Kind = "METHOD_NOT_FOUND"
	// KindValidationFailed means the arguments violate the tool schema.
	KindValidationFailed Kind = "VALIDATION_FAILED"
	// KindTimeout means a deadline was exceeded.
	KindTimeout Kind = "TIMEOUT"
	// KindUpstreamUnavailable means a backend returned 5xx or the network
	// failed.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	// KindConflict means a concurrent write lost a race, e.g. a tag race.
	KindConflict Kind = "CONFLICT"
	// KindInUse means a delete was blocked by an existing reference.
	KindInUse Kind = "IN_USE"
	// KindInternal means an unexpected programming error.
	KindInternal Kind = "INTERNAL"
)

// retriableKinds is the fixed retriability table from the error design;
// everything absent is non-retriable.
var retriableKinds = map[Kind]bool{
	KindTimeout:             true,
	KindUpstreamUnavailable: true,
	KindConflict:            true,
}

// Retriable reports whether a kind is safe to retry.
func (k Kind) Retriable() bool {
	return retriableKinds[k]
}

// Error is the structured failure envelope returned by every operation.
// The wrapped cause is preserved for diagnostics but never used for
// branching.
type Error struct {
	Kind         Kind     `json:"kind"`
	Message      string   `json:"message"`
	Cause        string   `json:"cause,omitempty"`
	Retriable    bool     `json:"retriable"`
	FixHint      string   `json:"fix_hint,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`

	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// WithHint attaches a remediation hint and returns the error.
func (e *Error) WithHint(hint string) *Error {
	e.FixHint = hint
	return e
}

// WithAlternatives names tools better suited for the failed request.
func (e *Error) WithAlternatives(tools ...string) *Error {
	e.Alternatives = tools
	return e
}

// New creates an envelope error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retriable: kind.Retriable(),
	}
}

// WrapWithKind wraps a cause into an envelope error of the given kind.
func WrapWithKind(err error, kind Kind, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.wrapped = err
	if err != nil {
		e.Cause = err.Error()
	}
	return e
}

// KindOf returns the kind of an error, or KindInternal when the error does
// not carry an envelope anywhere in its chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries an envelope of the given
// kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
