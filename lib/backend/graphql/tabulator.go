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

package graphql

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// tabulatorOps manages tabulator tables through the admin GraphQL
// namespace. Table configs are YAML documents validated server-side.
type tabulatorOps struct {
	backend *Backend
}

const tabulatorTablesQuery = `
query ($bucket: String!) {
  bucketConfig(name: $bucket) {
    tabulatorTables { name config }
  }
}`

func (t *tabulatorOps) TablesList(ctx context.Context, rc *session.RequestContext, bucket string) ([]quiltops.TabulatorTable, error) {
	if bucket == "" {
		return nil, trace.BadParameter("bucket is required")
	}
	var resp struct {
		BucketConfig *struct {
			TabulatorTables []quiltops.TabulatorTable `json:"tabulatorTables"`
		} `json:"bucketConfig"`
	}
	vars := map[string]any{"bucket": bucket}
	if err := t.backend.query(ctx, rc, tabulatorTablesQuery, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.BucketConfig == nil {
		return nil, trace.NotFound("bucket %q is not attached to the catalog", bucket)
	}
	return resp.BucketConfig.TabulatorTables, nil
}

const tabulatorTableSetMutation = `
mutation ($bucketName: String!, $tableName: String!, $config: String) {
  admin {
    bucketSetTabulatorTable(bucketName: $bucketName, tableName: $tableName, config: $config) {
      __typename
      ... on InvalidInput { errors { path message } }
      ... on OperationError { message }
    }
  }
}`

// TableSet creates or replaces a table. An empty config deletes the
// table, matching the catalog's own semantics.
func (t *tabulatorOps) TableSet(ctx context.Context, rc *session.RequestContext, bucket, table, config string) error {
	if bucket == "" || table == "" {
		return trace.BadParameter("bucket and table are required")
	}
	var resp struct {
		Admin struct {
			BucketSetTabulatorTable unionResult `json:"bucketSetTabulatorTable"`
		} `json:"admin"`
	}
	vars := map[string]any{"bucketName": bucket, "tableName": table}
	if config != "" {
		vars["config"] = config
	}
	if err := t.backend.query(ctx, rc, tabulatorTableSetMutation, vars, &resp); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(resp.Admin.BucketSetTabulatorTable.err("tabulator table set"))
}

const tabulatorTableRenameMutation = `
mutation ($bucketName: String!, $tableName: String!, $newTableName: String!) {
  admin {
    bucketRenameTabulatorTable(bucketName: $bucketName, tableName: $tableName, newTableName: $newTableName) {
      __typename
      ... on InvalidInput { errors { path message } }
      ... on OperationError { message }
    }
  }
}`

func (t *tabulatorOps) TableRename(ctx context.Context, rc *session.RequestContext, bucket, table, newName string) error {
	if bucket == "" || table == "" || newName == "" {
		return trace.BadParameter("bucket, table and new name are required")
	}
	var resp struct {
		Admin struct {
			BucketRenameTabulatorTable unionResult `json:"bucketRenameTabulatorTable"`
		} `json:"admin"`
	}
	vars := map[string]any{"bucketName": bucket, "tableName": table, "newTableName": newName}
	if err := t.backend.query(ctx, rc, tabulatorTableRenameMutation, vars, &resp); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(resp.Admin.BucketRenameTabulatorTable.err("tabulator table rename"))
}

const tabulatorOpenQueryQuery = `
query { admin { tabulatorOpenQuery } }`

func (t *tabulatorOps) OpenQueryStatus(ctx context.Context, rc *session.RequestContext) (bool, error) {
	var resp struct {
		Admin struct {
			TabulatorOpenQuery bool `json:"tabulatorOpenQuery"`
		} `json:"admin"`
	}
	if err := t.backend.query(ctx, rc, tabulatorOpenQueryQuery, nil, &resp); err != nil {
		return false, trace.Wrap(err)
	}
	return resp.Admin.TabulatorOpenQuery, nil
}

const tabulatorOpenQueryMutation = `
mutation ($enabled: Boolean!) {
  admin {
    setTabulatorOpenQuery(enabled: $enabled) { tabulatorOpenQuery }
  }
}`

func (t *tabulatorOps) OpenQuerySet(ctx context.Context, rc *session.RequestContext, enabled bool) (bool, error) {
	var resp struct {
		Admin struct {
			SetTabulatorOpenQuery struct {
				TabulatorOpenQuery bool `json:"tabulatorOpenQuery"`
			} `json:"setTabulatorOpenQuery"`
		} `json:"admin"`
	}
	vars := map[string]any{"enabled": enabled}
	if err := t.backend.query(ctx, rc, tabulatorOpenQueryMutation, vars, &resp); err != nil {
		return false, trace.Wrap(err)
	}
	return resp.Admin.SetTabulatorOpenQuery.TabulatorOpenQuery, nil
}

var _ quiltops.TabulatorOps = (*tabulatorOps)(nil)
