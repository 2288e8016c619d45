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
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
)

// athenaAPI is the Athena surface used by Ops, narrowed for tests.
type athenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	ListQueryExecutions(ctx context.Context, params *athena.ListQueryExecutionsInput, optFns ...func(*athena.Options)) (*athena.ListQueryExecutionsOutput, error)
	BatchGetQueryExecution(ctx context.Context, params *athena.BatchGetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.BatchGetQueryExecutionOutput, error)
	ListWorkGroups(ctx context.Context, params *athena.ListWorkGroupsInput, optFns ...func(*athena.Options)) (*athena.ListWorkGroupsOutput, error)
	GetWorkGroup(ctx context.Context, params *athena.GetWorkGroupInput, optFns ...func(*athena.Options)) (*athena.GetWorkGroupOutput, error)
}

// Ops runs Athena queries and browses the Glue catalog with one request's
// credentials.
type Ops struct {
	athena athenaAPI
	glue   glueAPI
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewOpsWithAPI wires explicit API implementations, used in tests.
func NewOpsWithAPI(a athenaAPI, g glueAPI, clock clockwork.Clock) *Ops {
	return &Ops{athena: a, glue: g, clock: clock, logger: slog.Default()}
}

// QueryRequest describes one SQL execution. Database and Catalog are
// carried in the Athena execution context so names with hyphens need no
// quoting and the SQL text is never rewritten.
type QueryRequest struct {
	SQL       string
	Database  string
	Catalog   string
	Workgroup string
	MaxRows   int32
}

// Column describes one result column with its Athena type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is a completed query's result page plus execution stats.
type QueryResult struct {
	QueryExecutionID string     `json:"query_execution_id"`
	Columns          []Column   `json:"columns"`
	Rows             [][]string `json:"rows"`
	RowCount         int        `json:"row_count"`
	Truncated        bool       `json:"truncated"`
	ScannedBytes     int64      `json:"scanned_bytes,omitempty"`
	ExecutionMillis  int64      `json:"execution_millis,omitempty"`
	OutputLocation   string     `json:"output_location,omitempty"`
}

// Execute starts a query, polls to completion and fetches the first page
// of results. Cancellation stops the query upstream before returning.
func (o *Ops) Execute(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, trace.BadParameter("query is empty")
	}

	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(req.SQL),
	}
	if req.Workgroup != "" {
		input.WorkGroup = aws.String(req.Workgroup)
	}
	if req.Database != "" || req.Catalog != "" {
		qec := &athenatypes.QueryExecutionContext{}
		if req.Database != "" {
			qec.Database = aws.String(req.Database)
		}
		if req.Catalog != "" {
			qec.Catalog = aws.String(req.Catalog)
		}
		input.QueryExecutionContext = qec
	}

	started, err := o.athena.StartQueryExecution(ctx, input)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id := aws.ToString(started.QueryExecutionId)

	exec, err := o.waitForQuery(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return o.fetchResults(ctx, id, exec, req.MaxRows)
}

// waitForQuery polls the execution state with exponential backoff. On
// context cancellation the query is stopped with a detached call so no
// orphan keeps scanning.
func (o *Ops) waitForQuery(ctx context.Context, id string) (*athenatypes.QueryExecution, error) {
	interval := defaults.AthenaPollInterval
	for {
		out, err := o.athena.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(id),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		exec := out.QueryExecution
		if exec == nil || exec.Status == nil {
			return nil, trace.BadParameter("GetQueryExecution returned no status for %s", id)
		}
		switch exec.Status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return exec, nil
		case athenatypes.QueryExecutionStateFailed:
			reason := aws.ToString(exec.Status.StateChangeReason)
			return nil, trace.BadParameter("query failed: %s", reason)
		case athenatypes.QueryExecutionStateCancelled:
			return nil, trace.BadParameter("query was cancelled")
		}

		select {
		case <-ctx.Done():
			o.stopQuery(id)
			return nil, trace.Wrap(ctx.Err())
		case <-o.clock.After(interval):
		}
		interval *= 2
		if interval > defaults.AthenaPollMaxInterval {
			interval = defaults.AthenaPollMaxInterval
		}
	}
}

func (o *Ops) stopQuery(id string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := o.athena.StopQueryExecution(stopCtx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(id),
	}); err != nil {
		o.logger.WarnContext(stopCtx, "failed to stop abandoned query",
			"query_execution_id", id, "error", err)
	}
}

func (o *Ops) fetchResults(ctx context.Context, id string, exec *athenatypes.QueryExecution, maxRows int32) (*QueryResult, error) {
	// GetQueryResults caps MaxResults at 1000 and the header row counts
	// against it, so the data-row cap is one less.
	if maxRows <= 0 || maxRows > defaults.AthenaMaxResultsPerPage-1 {
		maxRows = defaults.AthenaMaxResultsPerPage - 1
	}
	out, err := o.athena.GetQueryResults(ctx, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(id),
		MaxResults:       aws.Int32(maxRows + 1),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result := &QueryResult{
		QueryExecutionID: id,
		Truncated:        out.NextToken != nil,
	}
	if exec != nil {
		if stats := exec.Statistics; stats != nil {
			result.ScannedBytes = aws.ToInt64(stats.DataScannedInBytes)
			result.ExecutionMillis = aws.ToInt64(stats.TotalExecutionTimeInMillis)
		}
		if rc := exec.ResultConfiguration; rc != nil {
			result.OutputLocation = aws.ToString(rc.OutputLocation)
		}
	}
	if out.ResultSet == nil {
		return result, nil
	}

	if meta := out.ResultSet.ResultSetMetadata; meta != nil {
		for _, col := range meta.ColumnInfo {
			result.Columns = append(result.Columns, Column{
				Name: aws.ToString(col.Name),
				Type: aws.ToString(col.Type),
			})
		}
	}

	rows := out.ResultSet.Rows
	// The first row duplicates the column names for SELECT results.
	if len(rows) > 0 && isHeaderRow(rows[0], result.Columns) {
		rows = rows[1:]
	}
	for _, row := range rows {
		cells := make([]string, len(row.Data))
		for i, datum := range row.Data {
			cells[i] = aws.ToString(datum.VarCharValue)
		}
		result.Rows = append(result.Rows, cells)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func isHeaderRow(row athenatypes.Row, columns []Column) bool {
	if len(row.Data) != len(columns) || len(columns) == 0 {
		return false
	}
	for i, datum := range row.Data {
		if aws.ToString(datum.VarCharValue) != columns[i].Name {
			return false
		}
	}
	return true
}

// QueryStatus reports a query execution without waiting for it.
type QueryStatus struct {
	QueryExecutionID string    `json:"query_execution_id"`
	State            string    `json:"state"`
	SQL              string    `json:"sql,omitempty"`
	Workgroup        string    `json:"workgroup,omitempty"`
	SubmittedAt      time.Time `json:"submitted_at,omitzero"`
	CompletedAt      time.Time `json:"completed_at,omitzero"`
	ScannedBytes     int64     `json:"scanned_bytes,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// History returns recent executions in a workgroup, newest first.
func (o *Ops) History(ctx context.Context, workgroup string, limit int32) ([]QueryStatus, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	input := &athena.ListQueryExecutionsInput{MaxResults: aws.Int32(limit)}
	if workgroup != "" {
		input.WorkGroup = aws.String(workgroup)
	}
	listed, err := o.athena.ListQueryExecutions(ctx, input)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(listed.QueryExecutionIds) == 0 {
		return nil, nil
	}

	batch, err := o.athena.BatchGetQueryExecution(ctx, &athena.BatchGetQueryExecutionInput{
		QueryExecutionIds: listed.QueryExecutionIds,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	history := make([]QueryStatus, 0, len(batch.QueryExecutions))
	for _, exec := range batch.QueryExecutions {
		status := QueryStatus{
			QueryExecutionID: aws.ToString(exec.QueryExecutionId),
			SQL:              aws.ToString(exec.Query),
			Workgroup:        aws.ToString(exec.WorkGroup),
		}
		if exec.Status != nil {
			status.State = string(exec.Status.State)
			status.SubmittedAt = aws.ToTime(exec.Status.SubmissionDateTime)
			status.CompletedAt = aws.ToTime(exec.Status.CompletionDateTime)
			status.Error = aws.ToString(exec.Status.StateChangeReason)
		}
		if exec.Statistics != nil {
			status.ScannedBytes = aws.ToInt64(exec.Statistics.DataScannedInBytes)
		}
		history = append(history, status)
	}
	return history, nil
}
