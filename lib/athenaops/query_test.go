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
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
)

// fakeAthena scripts one query execution walking through states, plus
// workgroup and history responses.
type fakeAthena struct {
	mu sync.Mutex

	startIn   *athena.StartQueryExecutionInput
	states    []athenatypes.QueryExecutionState
	polls     int
	reason    string
	nilStatus bool

	resultsIn *athena.GetQueryResultsInput
	results   *athena.GetQueryResultsOutput

	stopCalled bool

	workgroups map[string]athenatypes.WorkGroupState
	listWG     []athenatypes.WorkGroupSummary

	listIDs    []string
	batchExecs []athenatypes.QueryExecution
}

func (f *fakeAthena) StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startIn = params
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("qid-1")}, nil
}

func (f *fakeAthena) GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := athenatypes.QueryExecutionStateSucceeded
	if f.polls < len(f.states) {
		state = f.states[f.polls]
	}
	f.polls++
	if f.nilStatus {
		return &athena.GetQueryExecutionOutput{QueryExecution: &athenatypes.QueryExecution{
			QueryExecutionId: params.QueryExecutionId,
		}}, nil
	}
	return &athena.GetQueryExecutionOutput{QueryExecution: &athenatypes.QueryExecution{
		QueryExecutionId: params.QueryExecutionId,
		Status: &athenatypes.QueryExecutionStatus{
			State:             state,
			StateChangeReason: aws.String(f.reason),
		},
		Statistics: &athenatypes.QueryExecutionStatistics{
			DataScannedInBytes:         aws.Int64(1024),
			TotalExecutionTimeInMillis: aws.Int64(250),
		},
	}}, nil
}

func (f *fakeAthena) StopQueryExecution(ctx context.Context, _ *athena.StopQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = true
	return &athena.StopQueryExecutionOutput{}, nil
}

func (f *fakeAthena) GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultsIn = params
	if f.results == nil {
		return &athena.GetQueryResultsOutput{}, nil
	}
	return f.results, nil
}

func (f *fakeAthena) ListQueryExecutions(ctx context.Context, params *athena.ListQueryExecutionsInput, _ ...func(*athena.Options)) (*athena.ListQueryExecutionsOutput, error) {
	return &athena.ListQueryExecutionsOutput{QueryExecutionIds: f.listIDs}, nil
}

func (f *fakeAthena) BatchGetQueryExecution(ctx context.Context, _ *athena.BatchGetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.BatchGetQueryExecutionOutput, error) {
	return &athena.BatchGetQueryExecutionOutput{QueryExecutions: f.batchExecs}, nil
}

func (f *fakeAthena) ListWorkGroups(ctx context.Context, _ *athena.ListWorkGroupsInput, _ ...func(*athena.Options)) (*athena.ListWorkGroupsOutput, error) {
	return &athena.ListWorkGroupsOutput{WorkGroups: f.listWG}, nil
}

func (f *fakeAthena) GetWorkGroup(ctx context.Context, params *athena.GetWorkGroupInput, _ ...func(*athena.Options)) (*athena.GetWorkGroupOutput, error) {
	state, ok := f.workgroups[aws.ToString(params.WorkGroup)]
	if !ok {
		return nil, trace.NotFound("no such workgroup")
	}
	return &athena.GetWorkGroupOutput{WorkGroup: &athenatypes.WorkGroup{
		Name:  params.WorkGroup,
		State: state,
	}}, nil
}

func resultSet(columns []string, rows [][]string) *athena.GetQueryResultsOutput {
	out := &athena.GetQueryResultsOutput{ResultSet: &athenatypes.ResultSet{
		ResultSetMetadata: &athenatypes.ResultSetMetadata{},
	}}
	for _, name := range columns {
		out.ResultSet.ResultSetMetadata.ColumnInfo = append(
			out.ResultSet.ResultSetMetadata.ColumnInfo,
			athenatypes.ColumnInfo{Name: aws.String(name), Type: aws.String("varchar")})
	}
	for _, row := range rows {
		var data []athenatypes.Datum
		for _, cell := range row {
			data = append(data, athenatypes.Datum{VarCharValue: aws.String(cell)})
		}
		out.ResultSet.Rows = append(out.ResultSet.Rows, athenatypes.Row{Data: data})
	}
	return out
}

func TestExecuteCarriesExecutionContext(t *testing.T) {
	fake := &fakeAthena{}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clockwork.NewFakeClock())

	const sql = `SELECT * FROM "my-table" LIMIT 10`
	_, err := ops.Execute(context.Background(), QueryRequest{
		SQL:       sql,
		Database:  "my-hyphenated-db",
		Catalog:   "AwsDataCatalog",
		Workgroup: "primary",
	})
	require.NoError(t, err)

	// The SQL is never rewritten; the database travels in the execution
	// context where hyphenated names need no quoting.
	require.Equal(t, sql, aws.ToString(fake.startIn.QueryString))
	require.Equal(t, "primary", aws.ToString(fake.startIn.WorkGroup))
	require.NotNil(t, fake.startIn.QueryExecutionContext)
	require.Equal(t, "my-hyphenated-db", aws.ToString(fake.startIn.QueryExecutionContext.Database))
	require.Equal(t, "AwsDataCatalog", aws.ToString(fake.startIn.QueryExecutionContext.Catalog))
}

func TestExecuteStripsHeaderRow(t *testing.T) {
	fake := &fakeAthena{results: resultSet(
		[]string{"name", "size"},
		[][]string{{"name", "size"}, {"a.csv", "10"}, {"b.csv", "20"}},
	)}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clockwork.NewFakeClock())

	result, err := ops.Execute(context.Background(), QueryRequest{SQL: "SELECT 1"})
	require.NoError(t, err)
	require.Equal(t, "qid-1", result.QueryExecutionID)
	require.Len(t, result.Columns, 2)
	require.Equal(t, [][]string{{"a.csv", "10"}, {"b.csv", "20"}}, result.Rows)
	require.Equal(t, 2, result.RowCount)
	require.Equal(t, int64(1024), result.ScannedBytes)
}

func TestExecuteTruncation(t *testing.T) {
	out := resultSet([]string{"n"}, [][]string{{"n"}, {"1"}})
	out.NextToken = aws.String("more")
	ops := NewOpsWithAPI(&fakeAthena{results: out}, &fakeGlue{}, clockwork.NewFakeClock())

	result, err := ops.Execute(context.Background(), QueryRequest{SQL: "SELECT 1", MaxRows: 1})
	require.NoError(t, err)
	require.True(t, result.Truncated)
}

func TestExecuteResultPageWithinAPILimit(t *testing.T) {
	fake := &fakeAthena{}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clockwork.NewFakeClock())

	// The default page, header row included, must not exceed the API's
	// MaxResults ceiling of 1000.
	_, err := ops.Execute(context.Background(), QueryRequest{SQL: "SELECT 1"})
	require.NoError(t, err)
	require.Equal(t, int32(defaults.AthenaMaxResultsPerPage), aws.ToInt32(fake.resultsIn.MaxResults))

	// A small explicit cap still reserves the header-row slot.
	_, err = ops.Execute(context.Background(), QueryRequest{SQL: "SELECT 1", MaxRows: 10})
	require.NoError(t, err)
	require.Equal(t, int32(11), aws.ToInt32(fake.resultsIn.MaxResults))
}

func TestExecuteMissingStatus(t *testing.T) {
	fake := &fakeAthena{nilStatus: true}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clockwork.NewFakeClock())

	_, err := ops.Execute(context.Background(), QueryRequest{SQL: "SELECT 1"})
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "no status")
}

func TestExecuteEmptySQL(t *testing.T) {
	ops := NewOpsWithAPI(&fakeAthena{}, &fakeGlue{}, clockwork.NewFakeClock())
	_, err := ops.Execute(context.Background(), QueryRequest{SQL: "   "})
	require.True(t, trace.IsBadParameter(err))
}

func TestExecuteFailedQuery(t *testing.T) {
	fake := &fakeAthena{
		states: []athenatypes.QueryExecutionState{athenatypes.QueryExecutionStateFailed},
		reason: "SYNTAX_ERROR: line 1",
	}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clockwork.NewFakeClock())

	_, err := ops.Execute(context.Background(), QueryRequest{SQL: "SELEKT 1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SYNTAX_ERROR")
}

func TestExecutePollsWithBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fake := &fakeAthena{
		states: []athenatypes.QueryExecutionState{
			athenatypes.QueryExecutionStateQueued,
			athenatypes.QueryExecutionStateRunning,
			athenatypes.QueryExecutionStateSucceeded,
		},
		results: resultSet([]string{"n"}, [][]string{{"n"}, {"1"}}),
	}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clock)

	done := make(chan error, 1)
	var result *QueryResult
	go func() {
		var err error
		result, err = ops.Execute(context.Background(), QueryRequest{SQL: "SELECT 1"})
		done <- err
	}()

	// Two sleeps before the succeeded poll, doubling each time.
	clock.BlockUntil(1)
	clock.Advance(defaults.AthenaPollInterval)
	clock.BlockUntil(1)
	clock.Advance(2 * defaults.AthenaPollInterval)

	require.NoError(t, <-done)
	require.Equal(t, 1, result.RowCount)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, 3, fake.polls)
}

func TestExecuteCancellationStopsQuery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fake := &fakeAthena{
		states: []athenatypes.QueryExecutionState{
			athenatypes.QueryExecutionStateRunning,
			athenatypes.QueryExecutionStateRunning,
		},
	}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ops.Execute(ctx, QueryRequest{SQL: "SELECT 1"})
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	err := <-done
	require.Error(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.True(t, fake.stopCalled)
}

func TestHistory(t *testing.T) {
	submitted := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeAthena{
		listIDs: []string{"qid-1", "qid-2"},
		batchExecs: []athenatypes.QueryExecution{
			{
				QueryExecutionId: aws.String("qid-1"),
				Query:            aws.String("SELECT 1"),
				WorkGroup:        aws.String("primary"),
				Status: &athenatypes.QueryExecutionStatus{
					State:              athenatypes.QueryExecutionStateSucceeded,
					SubmissionDateTime: aws.Time(submitted),
				},
				Statistics: &athenatypes.QueryExecutionStatistics{
					DataScannedInBytes: aws.Int64(99),
				},
			},
			{
				QueryExecutionId: aws.String("qid-2"),
				Status: &athenatypes.QueryExecutionStatus{
					State:             athenatypes.QueryExecutionStateFailed,
					StateChangeReason: aws.String("TABLE_NOT_FOUND"),
				},
			},
		},
	}
	ops := NewOpsWithAPI(fake, &fakeGlue{}, clockwork.NewFakeClock())

	history, err := ops.History(context.Background(), "primary", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "SUCCEEDED", history[0].State)
	require.Equal(t, submitted, history[0].SubmittedAt)
	require.Equal(t, int64(99), history[0].ScannedBytes)
	require.Equal(t, "TABLE_NOT_FOUND", history[1].Error)
}

func TestHistoryEmpty(t *testing.T) {
	ops := NewOpsWithAPI(&fakeAthena{}, &fakeGlue{}, clockwork.NewFakeClock())
	history, err := ops.History(context.Background(), "", 0)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestDiscoverWorkgroup(t *testing.T) {
	ctx := context.Background()

	t.Run("preferred wins when usable", func(t *testing.T) {
		ops := NewOpsWithAPI(&fakeAthena{workgroups: map[string]athenatypes.WorkGroupState{
			"team": athenatypes.WorkGroupStateEnabled,
		}}, &fakeGlue{}, clockwork.NewFakeClock())
		wg, err := ops.DiscoverWorkgroup(ctx, "team")
		require.NoError(t, err)
		require.Equal(t, "team", wg)
	})

	t.Run("unusable preference fails", func(t *testing.T) {
		ops := NewOpsWithAPI(&fakeAthena{workgroups: map[string]athenatypes.WorkGroupState{
			"team": athenatypes.WorkGroupStateDisabled,
		}}, &fakeGlue{}, clockwork.NewFakeClock())
		_, err := ops.DiscoverWorkgroup(ctx, "team")
		require.True(t, trace.IsNotFound(err))
	})

	t.Run("primary is the default", func(t *testing.T) {
		ops := NewOpsWithAPI(&fakeAthena{workgroups: map[string]athenatypes.WorkGroupState{
			"primary": athenatypes.WorkGroupStateEnabled,
		}}, &fakeGlue{}, clockwork.NewFakeClock())
		wg, err := ops.DiscoverWorkgroup(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "primary", wg)
	})

	t.Run("quilt-named workgroups are preferred", func(t *testing.T) {
		ops := NewOpsWithAPI(&fakeAthena{listWG: []athenatypes.WorkGroupSummary{
			{Name: aws.String("analytics"), State: athenatypes.WorkGroupStateEnabled},
			{Name: aws.String("QuiltUserAthena"), State: athenatypes.WorkGroupStateEnabled},
		}}, &fakeGlue{}, clockwork.NewFakeClock())
		wg, err := ops.DiscoverWorkgroup(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "QuiltUserAthena", wg)
	})

	t.Run("any enabled workgroup as last resort", func(t *testing.T) {
		ops := NewOpsWithAPI(&fakeAthena{listWG: []athenatypes.WorkGroupSummary{
			{Name: aws.String("disabled"), State: athenatypes.WorkGroupStateDisabled},
			{Name: aws.String("analytics"), State: athenatypes.WorkGroupStateEnabled},
		}}, &fakeGlue{}, clockwork.NewFakeClock())
		wg, err := ops.DiscoverWorkgroup(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "analytics", wg)
	})

	t.Run("nothing visible", func(t *testing.T) {
		ops := NewOpsWithAPI(&fakeAthena{}, &fakeGlue{}, clockwork.NewFakeClock())
		_, err := ops.DiscoverWorkgroup(ctx, "")
		require.True(t, trace.IsNotFound(err))
	})
}

// fakeGlue serves a small two-page catalog.
type fakeGlue struct {
	dbPages [][]gluetypes.Database
	dbCalls int

	tables map[string][]gluetypes.Table
}

func (f *fakeGlue) GetDatabases(ctx context.Context, params *glue.GetDatabasesInput, _ ...func(*glue.Options)) (*glue.GetDatabasesOutput, error) {
	if f.dbCalls >= len(f.dbPages) {
		return &glue.GetDatabasesOutput{}, nil
	}
	out := &glue.GetDatabasesOutput{DatabaseList: f.dbPages[f.dbCalls]}
	f.dbCalls++
	if f.dbCalls < len(f.dbPages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeGlue) GetTables(ctx context.Context, params *glue.GetTablesInput, _ ...func(*glue.Options)) (*glue.GetTablesOutput, error) {
	return &glue.GetTablesOutput{TableList: f.tables[aws.ToString(params.DatabaseName)]}, nil
}

func (f *fakeGlue) GetTable(ctx context.Context, params *glue.GetTableInput, _ ...func(*glue.Options)) (*glue.GetTableOutput, error) {
	for _, table := range f.tables[aws.ToString(params.DatabaseName)] {
		if aws.ToString(table.Name) == aws.ToString(params.Name) {
			return &glue.GetTableOutput{Table: &table}, nil
		}
	}
	return nil, trace.NotFound("no such table")
}

func TestDatabasesListPaginates(t *testing.T) {
	fake := &fakeGlue{dbPages: [][]gluetypes.Database{
		{{Name: aws.String("db1")}},
		{{Name: aws.String("db2"), Description: aws.String("second")}},
	}}
	ops := NewOpsWithAPI(&fakeAthena{}, fake, clockwork.NewFakeClock())

	dbs, err := ops.DatabasesList(context.Background())
	require.NoError(t, err)
	require.Len(t, dbs, 2)
	require.Equal(t, "db1", dbs[0].Name)
	require.Equal(t, "second", dbs[1].Description)
}

func TestTablesList(t *testing.T) {
	fake := &fakeGlue{tables: map[string][]gluetypes.Table{
		"db1": {{
			Name:      aws.String("events"),
			TableType: aws.String("EXTERNAL_TABLE"),
			StorageDescriptor: &gluetypes.StorageDescriptor{
				Location: aws.String("s3://bkt/events/"),
			},
		}},
	}}
	ops := NewOpsWithAPI(&fakeAthena{}, fake, clockwork.NewFakeClock())

	tables, err := ops.TablesList(context.Background(), "db1")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, "events", tables[0].Name)
	require.Equal(t, "db1", tables[0].Database)
	require.Equal(t, "s3://bkt/events/", tables[0].Location)

	_, err = ops.TablesList(context.Background(), "")
	require.True(t, trace.IsBadParameter(err))
}

func TestGetTableSchema(t *testing.T) {
	fake := &fakeGlue{tables: map[string][]gluetypes.Table{
		"db1": {{
			Name: aws.String("events"),
			StorageDescriptor: &gluetypes.StorageDescriptor{
				Columns: []gluetypes.Column{
					{Name: aws.String("id"), Type: aws.String("bigint")},
					{Name: aws.String("payload"), Type: aws.String("string")},
				},
			},
			PartitionKeys: []gluetypes.Column{
				{Name: aws.String("dt"), Type: aws.String("date")},
			},
		}},
	}}
	ops := NewOpsWithAPI(&fakeAthena{}, fake, clockwork.NewFakeClock())

	schema, err := ops.GetTableSchema(context.Background(), "db1", "events")
	require.NoError(t, err)
	require.Len(t, schema.Columns, 2)
	require.Equal(t, "bigint", schema.Columns[0].Type)
	require.Len(t, schema.PartitionKeys, 1)
	require.Equal(t, "dt", schema.PartitionKeys[0].Name)

	_, err = ops.GetTableSchema(context.Background(), "db1", "missing")
	require.True(t, trace.IsNotFound(err))
}
