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

package srv

import (
	"context"
	"net/http"
	"os"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/auth"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// connInfo is what the transport learned about the connection before any
// tool call: the raw bearer token and the MCP session id. Validation is
// deferred to dispatch so a bad token fails the tool call that needs it,
// not the whole connection.
type connInfo struct {
	token     string
	sessionID string
}

type connInfoKey struct{}

func withConnInfo(ctx context.Context, info connInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

func connInfoFrom(ctx context.Context) connInfo {
	info, _ := ctx.Value(connInfoKey{}).(connInfo)
	return info
}

// httpContext extracts the bearer token and session id from each HTTP
// request before the MCP layer sees it.
func (s *Server) httpContext(ctx context.Context, r *http.Request) context.Context {
	var info connInfo
	if token, ok := auth.BearerFromHeader(r.Header.Get("Authorization")); ok {
		info.token = token
	}
	info.sessionID = r.Header.Get("Mcp-Session-Id")
	return withConnInfo(ctx, info)
}

// stdioContext picks up a token from the environment; the stdio transport
// has no headers and the process serves exactly one local client.
func (s *Server) stdioContext(ctx context.Context) context.Context {
	var info connInfo
	if token := os.Getenv("QUILT_AUTH_TOKEN"); token != "" {
		info.token = token
	}
	return withConnInfo(ctx, info)
}

// requestContext builds the per-call RequestContext: validates the bearer
// token when one is present, enforces strict mode, and stamps the resolved
// deployment facts. The returned context carries the RequestContext for
// layers below dispatch.
func (s *Server) requestContext(ctx context.Context) (context.Context, *session.RequestContext, error) {
	info := connInfoFrom(ctx)
	rc := &session.RequestContext{
		RequestID:   session.NewRequestID(),
		SessionID:   info.sessionID,
		Deployment:  string(s.cfg.Config.Deployment),
		Backend:     string(s.cfg.Config.ResolvedBackend()),
		CatalogURL:  s.cfg.Config.CatalogURL,
		RegistryURL: s.cfg.Config.RegistryURL,
		Token:       info.token,
	}

	if info.token != "" && s.cfg.Validator != nil {
		claims, err := s.cfg.Validator.Validate(ctx, info.token)
		if err != nil {
			return ctx, nil, trace.Wrap(err)
		}
		rc.Claims = claims
	}

	if s.cfg.Config.RequireJWT && !rc.Authenticated() {
		if info.token == "" {
			return ctx, nil, quilterr.New(quilterr.KindAuthNoCredentials,
				"no bearer token was supplied").
				WithHint("pass Authorization: Bearer <token> with a catalog-issued JWT")
		}
		return ctx, nil, quilterr.New(quilterr.KindAuthInvalid,
			"the bearer token could not be verified").
			WithHint("pass a catalog-issued JWT signed with the configured secret")
	}

	return session.WithRequestContext(ctx, rc), rc, nil
}
