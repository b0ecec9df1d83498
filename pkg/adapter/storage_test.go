package adapter_test

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
)

func TestStorage(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewStorage(ctx, bucket)
	gt.NoError(t, err)

	key := "talk2sql-test/" + time.Now().Format("20060102150405.000000000") + ".jsonl"
	w, err := client.Put(ctx, key, "application/x-ndjson")
	gt.NoError(t, err)
	_, err = w.Write([]byte(`{"question":"q"}` + "\n"))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := client.Get(ctx, key)
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.S(t, string(data)).Contains(`"question":"q"`)
	gt.S(t, client.URL(key)).Contains("gs://" + bucket)
}

func TestNewStorageRequiresBucket(t *testing.T) {
	_, err := adapter.NewStorage(context.Background(), "")
	gt.Error(t, err)
}
