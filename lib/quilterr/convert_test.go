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

package quilterr

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestConvertTraceClasses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"not found", trace.NotFound("no such package"), KindNotFound},
		{"access denied", trace.AccessDenied("nope"), KindPermissionDenied},
		{"bad parameter", trace.BadParameter("bad"), KindValidationFailed},
		{"already exists", trace.AlreadyExists("taken"), KindConflict},
		{"not implemented", trace.NotImplemented("moved to graphql"), KindMethodNotFound},
		{"connection problem", trace.ConnectionProblem(nil, "down"), KindUpstreamUnavailable},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Convert(tt.err)
			require.Equal(t, tt.kind, e.Kind)
			require.Equal(t, tt.kind.Retriable(), e.Retriable)
		})
	}
}

func TestConvertWrappedTrace(t *testing.T) {
	err := trace.Wrap(trace.Wrap(trace.NotFound("package %q not found", "ns/pkg")))
	e := Convert(err)
	require.Equal(t, KindNotFound, e.Kind)
	require.Contains(t, e.Message, "ns/pkg")
}

func TestConvertAWSAPIError(t *testing.T) {
	tests := []struct {
		code string
		kind Kind
	}{
		{"NoSuchKey", KindNotFound},
		{"AccessDenied", KindPermissionDenied},
		{"ExpiredToken", KindAuthInvalid},
		{"ThrottlingException", KindUpstreamUnavailable},
		{"ValidationException", KindValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			apiErr := &smithy.GenericAPIError{Code: tt.code, Message: "upstream said no"}
			e := Convert(trace.Wrap(apiErr))
			require.Equal(t, tt.kind, e.Kind)
		})
	}
}

func TestConvertIdempotent(t *testing.T) {
	orig := New(KindInUse, "policy attached to 2 roles").WithHint("detach first")
	e := Convert(trace.Wrap(orig))
	require.Same(t, orig, e)
	require.Equal(t, "detach first", e.FixHint)
}

func TestRetriableTable(t *testing.T) {
	retriable := []Kind{KindTimeout, KindUpstreamUnavailable, KindConflict}
	for _, k := range retriable {
		require.True(t, k.Retriable(), "%s should be retriable", k)
	}
	for _, k := range []Kind{
		KindAuthInvalid, KindAuthNoCredentials, KindPermissionDenied, KindNotFound,
		KindConfigInvalid, KindProtocolMismatch, KindMethodNotFound,
		KindValidationFailed, KindInUse, KindInternal,
	} {
		require.False(t, k.Retriable(), "%s should not be retriable", k)
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindNotFound, KindOf(New(KindNotFound, "gone")))
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
	require.True(t, IsKind(WrapWithKind(errors.New("x"), KindTimeout, "slow"), KindTimeout))
}
