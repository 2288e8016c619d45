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

	"github.com/gravitational/trace"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

func (s *Server) registerSearchTools() {
	s.register(mcp.NewTool("search",
		mcp.WithDescription("Unified search over packages and objects. The query is classified and routed to the best backend, with automatic fallback; analytical questions are redirected to the query tools."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("scope", mcp.Description("bucket, package or global (default)")),
		mcp.WithString("bucket", mcp.Description("Single bucket to search")),
		mcp.WithArray("buckets", mcp.Description("Buckets to search"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("type", mcp.Description("packages, objects or both (default)")),
		mcp.WithNumber("limit", mcp.Description("Maximum hits to return")),
	), s.handleSearch)

	s.register(mcp.NewTool("search_explain",
		mcp.WithDescription("Explain how a search query would be classified and routed, without running it."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("scope", mcp.Description("bucket, package or global")),
		mcp.WithString("bucket", mcp.Description("Single bucket")),
		mcp.WithArray("buckets", mcp.Description("Buckets to search"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("type", mcp.Description("packages, objects or both")),
		mcp.WithNumber("limit", mcp.Description("Maximum hits the plan targets")),
	), s.handleSearchExplain)
}

func searchQueryFrom(req mcp.CallToolRequest) (quiltops.SearchQuery, error) {
	text, err := requireString(req, "query")
	if err != nil {
		return quiltops.SearchQuery{}, trace.Wrap(err)
	}
	q := quiltops.SearchQuery{
		Text:    text,
		Scope:   quiltops.SearchScope(req.GetString("scope", "")),
		Bucket:  req.GetString("bucket", ""),
		Buckets: req.GetStringSlice("buckets", nil),
		Type:    quiltops.SearchType(req.GetString("type", "")),
		Limit:   req.GetInt("limit", 0),
	}
	switch q.Scope {
	case "", quiltops.ScopeBucket, quiltops.ScopePackage, quiltops.ScopeGlobal:
	default:
		return quiltops.SearchQuery{}, quilterr.New(quilterr.KindValidationFailed,
			"scope must be bucket, package or global; got %q", q.Scope)
	}
	switch q.Type {
	case "", quiltops.TypePackages, quiltops.TypeObjects, quiltops.TypeBoth:
	default:
		return quiltops.SearchQuery{}, quilterr.New(quilterr.KindValidationFailed,
			"type must be packages, objects or both; got %q", q.Type)
	}
	return q, nil
}

func (s *Server) handleSearch(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	q, err := searchQueryFrom(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := s.cfg.Ops.Search(ctx, rc, q)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

func (s *Server) handleSearchExplain(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	q, err := searchQueryFrom(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if s.cfg.Engine == nil {
		return nil, quilterr.New(quilterr.KindMethodNotFound, "search is not configured on this deployment")
	}
	return s.cfg.Engine.Explain(q), nil
}
