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
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// toolHandler is the signature every tool module implements. The returned
// value is JSON-marshaled into the text result.
type toolHandler func(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error)

// register wires a tool through the dispatch wrapper: request context
// construction, the per-call deadline, panic containment, the single
// error conversion, and metrics.
func (s *Server) register(tool mcp.Tool, handler toolHandler) {
	if s.disabled[tool.Name] {
		return
	}
	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, _ error) {
		start := s.cfg.Clock.Now()
		defer func() {
			if r := recover(); r != nil {
				s.cfg.Logger.ErrorContext(ctx, "tool handler panicked",
					"tool", tool.Name, "panic", r, "stack", string(debug.Stack()))
				e := quilterr.New(quilterr.KindInternal, "internal error in %s", tool.Name)
				result = errorResult(e)
				s.observe(tool.Name, string(e.Kind), start)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, s.cfg.Config.ServiceTimeout)
		defer cancel()

		ctx, rc, err := s.requestContext(ctx)
		if err != nil {
			e := quilterr.Convert(err)
			s.observe(tool.Name, string(e.Kind), start)
			return errorResult(e), nil
		}

		if err := checkArguments(tool, req); err != nil {
			e := quilterr.Convert(err)
			s.observe(tool.Name, string(e.Kind), start)
			return errorResult(e), nil
		}

		out, err := handler(ctx, rc, req)
		if err != nil {
			e := quilterr.Convert(err)
			s.cfg.Logger.WarnContext(ctx, "tool call failed",
				"tool", tool.Name, "kind", e.Kind, "request_id", rc.RequestID, "error", err)
			s.observe(tool.Name, string(e.Kind), start)
			return errorResult(e), nil
		}

		s.observe(tool.Name, "ok", start)
		payload, err := json.Marshal(out)
		if err != nil {
			e := quilterr.WrapWithKind(err, quilterr.KindInternal, "encoding %s result", tool.Name)
			return errorResult(e), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

// errorResult renders the structured envelope as an error tool result so
// clients can branch on the stable kind.
func errorResult(e *quilterr.Error) *mcp.CallToolResult {
	payload, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(`{"kind":"INTERNAL","message":%q,"retriable":false}`, e.Message))
	}
	return mcp.NewToolResultError(string(payload))
}

func (s *Server) observe(tool, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
	s.metrics.ToolCallDuration.WithLabelValues(tool).Observe(s.cfg.Clock.Since(start).Seconds())
}

// checkArguments rejects arguments the tool schema does not declare, so
// a misspelled argument fails loudly instead of silently dropping a
// constraint. It runs before the handler touches any backend.
func checkArguments(tool mcp.Tool, req mcp.CallToolRequest) error {
	for key := range req.GetArguments() {
		if _, ok := tool.InputSchema.Properties[key]; !ok {
			return quilterr.New(quilterr.KindValidationFailed,
				"unknown argument %q for %s", key, tool.Name)
		}
	}
	return nil
}

// requireString fetches a required string argument, mapping absence onto
// the validation kind before any backend is touched.
func requireString(req mcp.CallToolRequest, key string) (string, error) {
	v, err := req.RequireString(key)
	if err != nil {
		return "", quilterr.WrapWithKind(err, quilterr.KindValidationFailed, "%s is required", key)
	}
	if v == "" {
		return "", quilterr.New(quilterr.KindValidationFailed, "%s must not be empty", key)
	}
	return v, nil
}

// bindArguments decodes the raw arguments into a typed struct, mapping
// schema violations onto the validation kind.
func bindArguments(req mcp.CallToolRequest, out any) error {
	if err := req.BindArguments(out); err != nil {
		return quilterr.WrapWithKind(err, quilterr.KindValidationFailed, "arguments do not match the tool schema")
	}
	return nil
}
