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

// Package backend assembles the QuiltOps implementation selected by the
// resolved configuration, wiring the shared catalog client, S3 factory,
// credential exchanger and search engine into it.
package backend

import (
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/quiltdata/quilt-mcp-server/lib/auth"
	"github.com/quiltdata/quilt-mcp-server/lib/backend/direct"
	"github.com/quiltdata/quilt-mcp-server/lib/backend/graphql"
	"github.com/quiltdata/quilt-mcp-server/lib/catalog"
	"github.com/quiltdata/quilt-mcp-server/lib/config"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/search"
)

// Deps are the shared components a backend is assembled from. Catalog is
// nil on the direct backend without a catalog URL.
type Deps struct {
	Catalog   *catalog.Client
	S3        *s3ops.Factory
	Exchanger *auth.Exchanger
	Engine    *search.Engine
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// CheckAndSetDefaults validates the dependency set.
func (d *Deps) CheckAndSetDefaults() error {
	if d.S3 == nil {
		return trace.BadParameter("missing S3 factory")
	}
	if d.Exchanger == nil {
		return trace.BadParameter("missing credential exchanger")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}

// New builds the QuiltOps implementation for the resolved backend kind.
// The backend is fixed for the process lifetime; per-request state
// arrives through the RequestContext.
func New(kind config.BackendKind, deps Deps) (quiltops.QuiltOps, error) {
	if err := deps.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	switch kind {
	case config.BackendDirect:
		cfg := direct.Config{
			S3:          deps.S3,
			Credentials: deps.Exchanger,
			Clock:       deps.Clock,
			Logger:      deps.Logger,
		}
		if deps.Engine != nil {
			cfg.Searcher = deps.Engine
		}
		return direct.New(cfg)
	case config.BackendGraphQL:
		if deps.Catalog == nil {
			return nil, trace.BadParameter("the graphql backend needs a catalog client")
		}
		cfg := graphql.Config{
			Catalog:     deps.Catalog,
			S3:          deps.S3,
			Credentials: deps.Exchanger,
			Logger:      deps.Logger,
		}
		if deps.Engine != nil {
			cfg.Searcher = deps.Engine
		}
		return graphql.New(cfg)
	default:
		return nil, trace.BadParameter("unknown backend kind %q", kind)
	}
}
