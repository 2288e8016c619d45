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
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/gravitational/trace"
)

// awsErrorKinds maps AWS API error codes to envelope kinds. Codes absent
// from the table fall through to the HTTP status mapping.
var awsErrorKinds = map[string]Kind{
	"AccessDenied":              KindPermissionDenied,
	"AccessDeniedException":     KindPermissionDenied,
	"ExpiredToken":              KindAuthInvalid,
	"InvalidAccessKeyId":        KindAuthInvalid,
	"NoSuchBucket":              KindNotFound,
	"NoSuchKey":                 KindNotFound,
	"NoSuchVersion":             KindNotFound,
	"NotFound":                  KindNotFound,
	"InvalidVersionId":          KindNotFound,
	"EntityNotFoundException":   KindNotFound,
	"ResourceNotFoundException": KindNotFound,
	"InvalidRequestException":   KindValidationFailed,
	"ValidationException":       KindValidationFailed,
	"ThrottlingException":       KindUpstreamUnavailable,
	"TooManyRequestsException":  KindUpstreamUnavailable,
	"SlowDown":                  KindUpstreamUnavailable,
	"RequestTimeout":            KindTimeout,
	"ParameterNotFound":         KindNotFound,
}

// Convert maps an arbitrary error into the structured envelope. It is
// applied exactly once, at the backend edge or the dispatch boundary.
// Already-converted errors pass through unchanged.
func Convert(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapWithKind(err, KindTimeout, "operation deadline exceeded")
	case errors.Is(err, context.Canceled):
		return WrapWithKind(err, KindTimeout, "operation cancelled by the client")
	}

	if kind, ok := awsKind(err); ok {
		return WrapWithKind(err, kind, "%s", userMessage(err))
	}

	switch {
	case trace.IsNotFound(err):
		return WrapWithKind(err, KindNotFound, "%s", userMessage(err))
	case trace.IsAccessDenied(err):
		return WrapWithKind(err, KindPermissionDenied, "%s", userMessage(err))
	case trace.IsBadParameter(err):
		return WrapWithKind(err, KindValidationFailed, "%s", userMessage(err))
	case trace.IsAlreadyExists(err) || trace.IsCompareFailed(err):
		return WrapWithKind(err, KindConflict, "%s", userMessage(err))
	case trace.IsNotImplemented(err):
		return WrapWithKind(err, KindMethodNotFound, "%s", userMessage(err))
	case trace.IsLimitExceeded(err):
		return WrapWithKind(err, KindUpstreamUnavailable, "%s", userMessage(err))
	case trace.IsConnectionProblem(err):
		return WrapWithKind(err, KindUpstreamUnavailable, "%s", userMessage(err))
	}

	return WrapWithKind(err, KindInternal, "unexpected internal error")
}

// awsKind classifies AWS SDK errors by API error code first, then by HTTP
// status.
func awsKind(err error) (Kind, bool) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := awsErrorKinds[apiErr.ErrorCode()]; ok {
			return kind, true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return KindNotFound, true
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return KindPermissionDenied, true
		case code == http.StatusConflict:
			return KindConflict, true
		case code >= 500:
			return KindUpstreamUnavailable, true
		}
	}
	if apiErr != nil {
		// Unrecognized API error; treat server faults as upstream trouble.
		if apiErr.ErrorFault() == smithy.FaultServer {
			return KindUpstreamUnavailable, true
		}
		return KindValidationFailed, true
	}
	return KindInternal, false
}

// userMessage strips trace's debug wrapping so the envelope carries a plain
// one-sentence message.
func userMessage(err error) string {
	return trace.UserMessage(err)
}
