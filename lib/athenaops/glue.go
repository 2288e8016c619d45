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

package athenaops

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/gravitational/trace"
)

// glueAPI is the Glue surface used by Ops, narrowed for tests.
type glueAPI interface {
	GetDatabases(ctx context.Context, params *glue.GetDatabasesInput, optFns ...func(*glue.Options)) (*glue.GetDatabasesOutput, error)
	GetTables(ctx context.Context, params *glue.GetTablesInput, optFns ...func(*glue.Options)) (*glue.GetTablesOutput, error)
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

// Database is one Glue database.
type Database struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Table is one Glue table summary.
type Table struct {
	Name      string `json:"name"`
	Database  string `json:"database"`
	TableType string `json:"table_type,omitempty"`
	Location  string `json:"location,omitempty"`
}

// TableColumn is one column of a table schema.
type TableColumn struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment,omitempty"`
}

// TableSchema is a table's column layout including partition keys.
type TableSchema struct {
	Table
	Columns       []TableColumn `json:"columns"`
	PartitionKeys []TableColumn `json:"partition_keys,omitempty"`
}

// DatabasesList returns all Glue databases visible to the credentials.
func (o *Ops) DatabasesList(ctx context.Context) ([]Database, error) {
	var dbs []Database
	var next *string
	for {
		out, err := o.glue.GetDatabases(ctx, &glue.GetDatabasesInput{NextToken: next})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, db := range out.DatabaseList {
			dbs = append(dbs, Database{
				Name:        aws.ToString(db.Name),
				Description: aws.ToString(db.Description),
				Location:    aws.ToString(db.LocationUri),
			})
		}
		if out.NextToken == nil {
			return dbs, nil
		}
		next = out.NextToken
	}
}

// TablesList returns the tables of one database.
func (o *Ops) TablesList(ctx context.Context, database string) ([]Table, error) {
	if database == "" {
		return nil, trace.BadParameter("database is required")
	}
	var tables []Table
	var next *string
	for {
		out, err := o.glue.GetTables(ctx, &glue.GetTablesInput{
			DatabaseName: aws.String(database),
			NextToken:    next,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, t := range out.TableList {
			table := Table{
				Name:      aws.ToString(t.Name),
				Database:  database,
				TableType: aws.ToString(t.TableType),
			}
			if t.StorageDescriptor != nil {
				table.Location = aws.ToString(t.StorageDescriptor.Location)
			}
			tables = append(tables, table)
		}
		if out.NextToken == nil {
			return tables, nil
		}
		next = out.NextToken
	}
}

// GetTableSchema returns one table's columns and partition keys.
func (o *Ops) GetTableSchema(ctx context.Context, database, table string) (*TableSchema, error) {
	if database == "" || table == "" {
		return nil, trace.BadParameter("database and table are required")
	}
	out, err := o.glue.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	t := out.Table
	schema := &TableSchema{
		Table: Table{
			Name:      aws.ToString(t.Name),
			Database:  database,
			TableType: aws.ToString(t.TableType),
		},
	}
	if t.StorageDescriptor != nil {
		schema.Location = aws.ToString(t.StorageDescriptor.Location)
		for _, col := range t.StorageDescriptor.Columns {
			schema.Columns = append(schema.Columns, TableColumn{
				Name:    aws.ToString(col.Name),
				Type:    aws.ToString(col.Type),
				Comment: aws.ToString(col.Comment),
			})
		}
	}
	for _, col := range t.PartitionKeys {
		schema.PartitionKeys = append(schema.PartitionKeys, TableColumn{
			Name:    aws.ToString(col.Name),
			Type:    aws.ToString(col.Type),
			Comment: aws.ToString(col.Comment),
		})
	}
	return schema, nil
}
