package executor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

const (
	DialectBigQuery = "BigQuery (GoogleSQL)"

	DefaultScanLimitMB = 10240
)

// BigQuery runs statements as BigQuery jobs. Every statement is dry-run
// first and refused when it would scan more than the configured limit.
type BigQuery struct {
	client      adapter.BigQuery
	project     string
	datasets    []string
	scanLimitMB int64
	maxRows     int
}

type BigQueryOption func(*BigQuery)

func WithScanLimitMB(mb int64) BigQueryOption {
	return func(x *BigQuery) {
		x.scanLimitMB = mb
	}
}

// WithDatasets names the datasets whose tables SchemaDDL describes.
func WithDatasets(datasets ...string) BigQueryOption {
	return func(x *BigQuery) {
		x.datasets = datasets
	}
}

func WithBigQueryMaxRows(n int) BigQueryOption {
	return func(x *BigQuery) {
		x.maxRows = n
	}
}

func NewBigQuery(client adapter.BigQuery, project string, opts ...BigQueryOption) *BigQuery {
	x := &BigQuery{
		client:      client,
		project:     project,
		scanLimitMB: DefaultScanLimitMB,
		maxRows:     DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *BigQuery) Dialect() string {
	return DialectBigQuery
}

func (x *BigQuery) Run(ctx context.Context, query string) (*model.ResultSet, error) {
	scanBytes, err := x.client.DryRun(ctx, query)
	if err != nil {
		return nil, model.NewExecutionError(query, err)
	}

	scanMB := scanBytes / (1024 * 1024)
	if x.scanLimitMB > 0 && scanMB > x.scanLimitMB {
		return nil, model.NewExecutionError(query,
			goerr.New(fmt.Sprintf("query scan size (%d MB) exceeds limit (%d MB)", scanMB, x.scanLimitMB)))
	}

	schema, rows, err := x.client.Query(ctx, query, x.maxRows)
	if err != nil {
		return nil, model.NewExecutionError(query, err)
	}
	logging.From(ctx).Debug("bigquery executed", "rows", len(rows), "scan_mb", scanMB)

	names := make([]string, len(schema))
	types := make([]string, len(schema))
	for i, f := range schema {
		names[i] = f.Name
		types[i] = string(f.Type)
	}

	data := make([][]any, len(rows))
	for i, row := range rows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = bigQueryValue(v)
		}
		data[i] = values
	}

	return model.NewResultSet(names, types, data), nil
}

// bigQueryValue maps driver values onto JSON friendly types.
func bigQueryValue(v bigquery.Value) any {
	switch x := v.(type) {
	case *big.Rat:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return f
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		// civil.Date, civil.Time, civil.DateTime
		return x.String()
	case []bigquery.Value:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = bigQueryValue(e)
		}
		return out
	}
	return v
}

// SchemaDDL describes every table of the configured datasets as a CREATE
// TABLE statement.
func (x *BigQuery) SchemaDDL(ctx context.Context) ([]string, error) {
	var ddl []string
	for _, dataset := range x.datasets {
		tables, err := x.client.ListTables(ctx, dataset)
		if err != nil {
			return nil, err
		}
		for _, table := range tables {
			md, err := x.client.GetTableMetadata(ctx, x.project, dataset, table)
			if err != nil {
				return nil, err
			}
			ddl = append(ddl, tableDDL(fmt.Sprintf("`%s.%s.%s`", x.project, dataset, table), md))
		}
	}
	return ddl, nil
}

func tableDDL(name string, md *bigquery.TableMetadata) string {
	var b strings.Builder
	if md.Description != "" {
		b.WriteString("-- " + md.Description + "\n")
	}
	b.WriteString("CREATE TABLE " + name + " (\n")
	for i, f := range md.Schema {
		b.WriteString("  " + f.Name + " " + fieldType(f))
		if i < len(md.Schema)-1 {
			b.WriteString(",")
		}
		if f.Description != "" {
			b.WriteString(" -- " + f.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}

func fieldType(f *bigquery.FieldSchema) string {
	t := string(f.Type)
	if f.Type == bigquery.RecordFieldType {
		inner := make([]string, len(f.Schema))
		for i, sub := range f.Schema {
			inner[i] = sub.Name + " " + fieldType(sub)
		}
		t = "STRUCT<" + strings.Join(inner, ", ") + ">"
	}
	if f.Repeated {
		t = "ARRAY<" + t + ">"
	}
	return t
}
