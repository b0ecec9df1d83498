package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// BigQuery is an interface for BigQuery operations
type BigQuery interface {
	// DryRun executes a query in dry-run mode and returns the number of bytes that will be scanned
	DryRun(ctx context.Context, query string) (int64, error)

	// Query runs a query, waits for it and reads at most limit rows. limit <= 0 reads everything
	Query(ctx context.Context, query string, limit int) (bigquery.Schema, [][]bigquery.Value, error)

	// ListTables returns table IDs of a dataset in the client project
	ListTables(ctx context.Context, datasetID string) ([]string, error)

	// GetTableMetadata retrieves the metadata of a table including schema and partition information
	GetTableMetadata(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error)
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string) (BigQuery, error) {
	if projectID == "" {
		return nil, goerr.New("bigquery project is required")
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &bigqueryClient{client: client}, nil
}

func (bq *bigqueryClient) DryRun(ctx context.Context, query string) (int64, error) {
	q := bq.client.Query(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, goerr.New("no statistics available from dry-run")
	}

	return status.Statistics.TotalBytesProcessed, nil
}

func (bq *bigqueryClient) Query(ctx context.Context, query string, limit int) (bigquery.Schema, [][]bigquery.Value, error) {
	job, err := bq.client.Query(query).Run(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to wait for query completion", goerr.V("job_id", job.ID()))
	}
	if status.Err() != nil {
		return nil, nil, goerr.Wrap(status.Err(), "query execution failed", goerr.V("job_id", job.ID()))
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to read query result", goerr.V("job_id", job.ID()))
	}

	var rows [][]bigquery.Value
	for limit <= 0 || len(rows) < limit {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to iterate query result", goerr.V("job_id", job.ID()))
		}
		rows = append(rows, row)
	}

	return it.Schema, rows, nil
}

func (bq *bigqueryClient) ListTables(ctx context.Context, datasetID string) ([]string, error) {
	var tables []string
	it := bq.client.Dataset(datasetID).Tables(ctx)
	for {
		tbl, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list tables", goerr.V("dataset", datasetID))
		}
		tables = append(tables, tbl.TableID)
	}
	return tables, nil
}

func (bq *bigqueryClient) GetTableMetadata(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error) {
	client := bq.client
	if project != "" && project != bq.client.Project() {
		var err error
		client, err = bigquery.NewClient(ctx, project)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create BigQuery client for project", goerr.V("project", project))
		}
		defer client.Close()
	}

	metadata, err := client.Dataset(datasetID).Table(table).Metadata(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get table metadata",
			goerr.V("dataset", datasetID), goerr.V("table", table))
	}

	return metadata, nil
}
