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

	"github.com/quiltdata/quilt-mcp-server/lib/athenaops"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

func (s *Server) registerTabulatorTools() {
	s.register(mcp.NewTool("tabulator_tables_list",
		mcp.WithDescription("List tabulator tables attached to a bucket."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
	), s.handleTabulatorTablesList)

	s.register(mcp.NewTool("tabulator_table_create",
		mcp.WithDescription("Create or replace a tabulator table from its config."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name")),
		mcp.WithString("config", mcp.Required(), mcp.Description("Table config YAML")),
	), s.handleTabulatorTableCreate)

	s.register(mcp.NewTool("tabulator_table_delete",
		mcp.WithDescription("Delete a tabulator table."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name")),
	), s.handleTabulatorTableDelete)

	s.register(mcp.NewTool("tabulator_table_rename",
		mcp.WithDescription("Rename a tabulator table."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("table", mcp.Required(), mcp.Description("Current table name")),
		mcp.WithString("new_name", mcp.Required(), mcp.Description("New table name")),
	), s.handleTabulatorTableRename)

	s.register(mcp.NewTool("tabulator_open_query_status",
		mcp.WithDescription("Report whether tabulator open query is enabled for the stack."),
	), s.handleTabulatorOpenQueryStatus)

	s.register(mcp.NewTool("tabulator_open_query_set",
		mcp.WithDescription("Enable or disable tabulator open query."),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Desired state")),
	), s.handleTabulatorOpenQuerySet)

	s.register(mcp.NewTool("tabulator_query",
		mcp.WithDescription("Run SQL against the stack's tabulator database through Athena."),
		mcp.WithString("query", mcp.Required(), mcp.Description("SQL text")),
		mcp.WithString("workgroup", mcp.Description("Workgroup; discovered when empty")),
		mcp.WithNumber("max_rows", mcp.Description("Result row cap for the first page")),
	), s.handleTabulatorQuery)
}

func (s *Server) handleTabulatorTablesList(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tab, err := s.cfg.Ops.Tabulator()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tables, err := tab.TablesList(ctx, rc, bucket)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"bucket": bucket, "tables": tables}, nil
}

func (s *Server) handleTabulatorTableCreate(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	table, err := requireString(req, "table")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	config, err := requireString(req, "config")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tab, err := s.cfg.Ops.Tabulator()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := tab.TableSet(ctx, rc, bucket, table, config); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"bucket": bucket, "table": table}, nil
}

// handleTabulatorTableDelete removes a table; the upstream mutation is
// the same set call with an empty config.
func (s *Server) handleTabulatorTableDelete(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	table, err := requireString(req, "table")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tab, err := s.cfg.Ops.Tabulator()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := tab.TableSet(ctx, rc, bucket, table, ""); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"bucket": bucket, "table": table, "deleted": true}, nil
}

func (s *Server) handleTabulatorTableRename(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	table, err := requireString(req, "table")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	newName, err := requireString(req, "new_name")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tab, err := s.cfg.Ops.Tabulator()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := tab.TableRename(ctx, rc, bucket, table, newName); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"bucket": bucket, "table": newName}, nil
}

func (s *Server) handleTabulatorOpenQueryStatus(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	tab, err := s.cfg.Ops.Tabulator()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	enabled, err := tab.OpenQueryStatus(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]bool{"enabled": enabled}, nil
}

func (s *Server) handleTabulatorOpenQuerySet(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	enabled, err := req.RequireBool("enabled")
	if err != nil {
		return nil, quilterr.WrapWithKind(err, quilterr.KindValidationFailed, "enabled is required")
	}
	tab, err := s.cfg.Ops.Tabulator()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	state, err := tab.OpenQuerySet(ctx, rc, enabled)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]bool{"enabled": state}, nil
}

// handleTabulatorQuery routes tabulator SQL through Athena against the
// database derived from the stack's public config.
func (s *Server) handleTabulatorQuery(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	sql, err := requireString(req, "query")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if s.cfg.Catalog == nil {
		return nil, quilterr.New(quilterr.KindMethodNotFound,
			"tabulator queries need a catalog").
			WithHint("configure a catalog URL, or query the database directly with athena_query_execute")
	}
	pc, err := s.cfg.Catalog.GetPublicConfig(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	database := pc.TabulatorDatabase()
	if database == "" {
		return nil, quilterr.New(quilterr.KindNotFound,
			"the catalog does not expose a tabulator database")
	}

	ops, err := s.athenaFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	workgroup, err := ops.DiscoverWorkgroup(ctx, req.GetString("workgroup", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := ops.Execute(ctx, athenaops.QueryRequest{
		SQL:       sql,
		Database:  database,
		Workgroup: workgroup,
		MaxRows:   int32(req.GetInt("max_rows", 0)),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}
