package executor_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
	"github.com/m-mizutani/talk2sql/pkg/executor"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

type mockBigQuery struct {
	adapter.BigQuery
	dryRunFunc   func(ctx context.Context, query string) (int64, error)
	queryFunc    func(ctx context.Context, query string, limit int) (bigquery.Schema, [][]bigquery.Value, error)
	tablesFunc   func(ctx context.Context, datasetID string) ([]string, error)
	metadataFunc func(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error)
}

func (m *mockBigQuery) DryRun(ctx context.Context, query string) (int64, error) {
	return m.dryRunFunc(ctx, query)
}

func (m *mockBigQuery) Query(ctx context.Context, query string, limit int) (bigquery.Schema, [][]bigquery.Value, error) {
	return m.queryFunc(ctx, query, limit)
}

func (m *mockBigQuery) ListTables(ctx context.Context, datasetID string) ([]string, error) {
	return m.tablesFunc(ctx, datasetID)
}

func (m *mockBigQuery) GetTableMetadata(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error) {
	return m.metadataFunc(ctx, project, datasetID, table)
}

func TestBigQueryRun(t *testing.T) {
	ctx := context.Background()
	queried := false
	mock := &mockBigQuery{
		dryRunFunc: func(ctx context.Context, query string) (int64, error) {
			return 5 * 1024 * 1024, nil
		},
		queryFunc: func(ctx context.Context, query string, limit int) (bigquery.Schema, [][]bigquery.Value, error) {
			queried = true
			schema := bigquery.Schema{
				{Name: "country", Type: bigquery.StringFieldType},
				{Name: "revenue", Type: bigquery.NumericFieldType},
			}
			rows := [][]bigquery.Value{
				{"JP", big.NewRat(25, 2)},
				{"US", big.NewRat(40, 1)},
			}
			return schema, rows, nil
		},
	}

	t.Run("within scan limit", func(t *testing.T) {
		x := executor.NewBigQuery(mock, "proj", executor.WithScanLimitMB(10))
		rs, err := x.Run(ctx, "SELECT country, revenue FROM sales")
		gt.NoError(t, err)
		gt.True(t, queried)
		gt.Equal(t, rs.NumRows(), 2)
		gt.True(t, rs.Columns[1].Numeric)
		gt.Equal(t, rs.Rows[0][1], any(12.5))
	})

	t.Run("over scan limit", func(t *testing.T) {
		queried = false
		x := executor.NewBigQuery(mock, "proj", executor.WithScanLimitMB(1))
		_, err := x.Run(ctx, "SELECT * FROM huge")
		gt.Error(t, err)
		gt.False(t, queried)
		gt.True(t, errors.Is(err, model.ErrExecutionFailure))
		gt.S(t, err.Error()).Contains("exceeds limit")
	})

	t.Run("dry run failure", func(t *testing.T) {
		failing := &mockBigQuery{
			dryRunFunc: func(ctx context.Context, query string) (int64, error) {
				return 0, errors.New("Unrecognized name: contry")
			},
		}
		_, err := executor.NewBigQuery(failing, "proj").Run(ctx, "SELECT contry FROM sales")
		gt.True(t, errors.Is(err, model.ErrExecutionFailure))
		gt.S(t, err.Error()).Contains("Unrecognized name")
	})
}

func TestBigQuerySchemaDDL(t *testing.T) {
	mock := &mockBigQuery{
		tablesFunc: func(ctx context.Context, datasetID string) ([]string, error) {
			return []string{"events"}, nil
		},
		metadataFunc: func(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error) {
			return &bigquery.TableMetadata{
				Description: "raw events",
				Schema: bigquery.Schema{
					{Name: "id", Type: bigquery.StringFieldType, Description: "event id"},
					{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
					{Name: "actor", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
						{Name: "name", Type: bigquery.StringFieldType},
					}},
				},
			}, nil
		},
	}

	x := executor.NewBigQuery(mock, "proj", executor.WithDatasets("logs"))
	ddl, err := x.SchemaDDL(context.Background())
	gt.NoError(t, err)
	gt.A(t, ddl).Length(1)
	gt.S(t, ddl[0]).Contains("-- raw events")
	gt.S(t, ddl[0]).Contains("CREATE TABLE `proj.logs.events`")
	gt.S(t, ddl[0]).Contains("id STRING, -- event id")
	gt.S(t, ddl[0]).Contains("tags ARRAY<STRING>")
	gt.S(t, ddl[0]).Contains("actor STRUCT<name STRING>")
}
