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
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

func (s *Server) registerAthenaTools() {
	s.register(mcp.NewTool("athena_workgroups_list",
		mcp.WithDescription("List Athena workgroups and whether each is usable."),
	), s.handleAthenaWorkgroupsList)

	s.register(mcp.NewTool("athena_databases_list",
		mcp.WithDescription("List Glue databases visible to the caller."),
	), s.handleAthenaDatabasesList)

	s.register(mcp.NewTool("athena_tables_list",
		mcp.WithDescription("List tables in a Glue database."),
		mcp.WithString("database", mcp.Required(), mcp.Description("Database name")),
	), s.handleAthenaTablesList)

	s.register(mcp.NewTool("athena_table_schema",
		mcp.WithDescription("Describe a table's columns and partition keys."),
		mcp.WithString("database", mcp.Required(), mcp.Description("Database name")),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name")),
	), s.handleAthenaTableSchema)

	s.register(mcp.NewTool("athena_query_execute",
		mcp.WithDescription("Run a SQL query through Athena and return the first page of results. Database and catalog travel in the execution context, so hyphenated names need no quoting."),
		mcp.WithString("query", mcp.Required(), mcp.Description("SQL text")),
		mcp.WithString("schema", mcp.Description("Database for unqualified table names")),
		mcp.WithString("database", mcp.Description("Alias for schema")),
		mcp.WithString("catalog", mcp.Description("Data catalog; defaults to the account's AwsDataCatalog")),
		mcp.WithString("workgroup", mcp.Description("Workgroup; discovered when empty")),
		mcp.WithNumber("max_rows", mcp.Description("Result row cap for the first page")),
	), s.handleAthenaQueryExecute)

	s.register(mcp.NewTool("athena_query_history",
		mcp.WithDescription("List recent query executions in a workgroup with status and statistics."),
		mcp.WithString("workgroup", mcp.Description("Workgroup; discovered when empty")),
		mcp.WithNumber("limit", mcp.Description("Maximum executions to return, up to 50")),
	), s.handleAthenaQueryHistory)
}

func (s *Server) handleAthenaWorkgroupsList(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	ops, err := s.athenaFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	groups, err := ops.WorkgroupsList(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"workgroups": groups}, nil
}

func (s *Server) handleAthenaDatabasesList(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	ops, err := s.athenaFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	databases, err := ops.DatabasesList(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"databases": databases}, nil
}

func (s *Server) handleAthenaTablesList(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	database, err := requireString(req, "database")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.athenaFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tables, err := ops.TablesList(ctx, database)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"database": database, "tables": tables}, nil
}

func (s *Server) handleAthenaTableSchema(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	database, err := requireString(req, "database")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	table, err := requireString(req, "table")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.athenaFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	schema, err := ops.GetTableSchema(ctx, database, table)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return schema, nil
}

func (s *Server) handleAthenaQueryExecute(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	sql, err := requireString(req, "query")
	if err != nil {
		return nil, trace.Wrap(err)
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
		Database:  queryDatabase(req),
		Catalog:   req.GetString("catalog", ""),
		Workgroup: workgroup,
		MaxRows:   int32(req.GetInt("max_rows", 0)),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

// queryDatabase resolves the execution-context database for a query.
// Catalog clients send it as schema; database is an accepted alias.
func queryDatabase(req mcp.CallToolRequest) string {
	if db := req.GetString("schema", ""); db != "" {
		return db
	}
	return req.GetString("database", "")
}

func (s *Server) handleAthenaQueryHistory(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	ops, err := s.athenaFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	workgroup, err := ops.DiscoverWorkgroup(ctx, req.GetString("workgroup", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	history, err := ops.History(ctx, workgroup, int32(req.GetInt("limit", 0)))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"workgroup": workgroup, "executions": history}, nil
}
