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

	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

func (s *Server) registerAuthTools() {
	s.register(mcp.NewTool("auth_status",
		mcp.WithDescription("Report whether the caller is authenticated with the catalog and which catalog and registry this server talks to."),
	), s.handleAuthStatus)

	s.register(mcp.NewTool("catalog_info",
		mcp.WithDescription("Return the catalog's public configuration: region, registry URL and analytics settings."),
	), s.handleCatalogInfo)
}

func (s *Server) handleAuthStatus(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	status, err := s.cfg.Ops.AuthStatus(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return status, nil
}

func (s *Server) handleCatalogInfo(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	if s.cfg.Catalog == nil {
		return map[string]string{
			"catalog_url":  rc.CatalogURL,
			"registry_url": rc.RegistryURL,
			"backend":      rc.Backend,
		}, nil
	}
	pc, err := s.cfg.Catalog.GetPublicConfig(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{
		"catalog_url":        s.cfg.Catalog.CatalogURL(),
		"registry_url":       pc.RegistryURL,
		"region":             pc.Region,
		"analytics_bucket":   pc.AnalyticsBucket,
		"s3_proxy":           pc.S3Proxy,
		"tabulator_database": pc.TabulatorDatabase(),
		"backend":            rc.Backend,
	}, nil
}
