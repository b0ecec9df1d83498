package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	firestoreVectorField = "vector"
	firestoreMetaName    = "talk2sql_collections"
)

type firestorePoint struct {
	Vector    firestore.Vector32 `firestore:"vector"`
	Payload   map[string]string  `firestore:"payload"`
	UpdatedAt time.Time          `firestore:"updated_at"`
}

type firestoreCollectionMeta struct {
	Dimensions int       `firestore:"dimensions"`
	CreatedAt  time.Time `firestore:"created_at"`
}

// Firestore is a VectorStore on Firestore vector search. Each collection
// needs a single-field vector index on "vector" with the collection's
// dimensions before Search can be used.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a new Firestore vector store
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) meta(ctx context.Context, collection string) (*firestoreCollectionMeta, error) {
	doc, err := f.client.Collection(firestoreMetaName).Doc(collection).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(ErrCollectionNotFound, "collection is not initialized", goerr.V("collection", collection))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read collection metadata", goerr.V("collection", collection))
	}

	var meta firestoreCollectionMeta
	if err := doc.DataTo(&meta); err != nil {
		return nil, goerr.Wrap(err, "failed to decode collection metadata", goerr.V("collection", collection))
	}
	return &meta, nil
}

func (f *Firestore) EnsureCollection(ctx context.Context, collection string, dims int) error {
	meta, err := f.meta(ctx, collection)
	switch {
	case err == nil:
		if meta.Dimensions != dims {
			return goerr.Wrap(ErrDimensionMismatch, "collection exists with different dimensions",
				goerr.V("collection", collection), goerr.V("have", meta.Dimensions), goerr.V("want", dims))
		}
		return nil
	case !isNotFound(err):
		return err
	}

	_, err = f.client.Collection(firestoreMetaName).Doc(collection).Create(ctx, &firestoreCollectionMeta{
		Dimensions: dims,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return goerr.Wrap(err, "failed to create collection metadata", goerr.V("collection", collection))
	}
	return nil
}

func (f *Firestore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return goerr.Wrap(ErrEmptyVector, "cannot upsert", goerr.V("id", id))
	}

	_, err := f.client.Collection(collection).Doc(id).Set(ctx, &firestorePoint{
		Vector:    firestore.Vector32(vector),
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return goerr.Wrap(err, "failed to upsert point", goerr.V("collection", collection), goerr.V("id", id))
	}
	return nil
}

func (f *Firestore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.VectorPoint, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := f.client.Collection(collection).FindNearest(
		firestoreVectorField,
		firestore.Vector32(vector),
		limit,
		firestore.DistanceMeasureCosine,
		nil,
	)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run vector search", goerr.V("collection", collection))
	}

	points := make([]*model.VectorPoint, 0, len(docs))
	for _, doc := range docs {
		var p firestorePoint
		if err := doc.DataTo(&p); err != nil {
			return nil, goerr.Wrap(err, "failed to decode point", goerr.V("id", doc.Ref.ID))
		}
		points = append(points, &model.VectorPoint{
			ID:      doc.Ref.ID,
			Payload: p.Payload,
			Score:   cosineSimilarity(vector, p.Vector),
		})
	}

	return rankPoints(points, limit), nil
}

func (f *Firestore) Scroll(ctx context.Context, collection string, limit int) ([]*model.VectorPoint, error) {
	q := f.client.Collection(collection).Query
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var points []*model.VectorPoint
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scroll points", goerr.V("collection", collection))
		}

		var p firestorePoint
		if err := doc.DataTo(&p); err != nil {
			return nil, goerr.Wrap(err, "failed to decode point", goerr.V("id", doc.Ref.ID))
		}
		points = append(points, &model.VectorPoint{ID: doc.Ref.ID, Payload: p.Payload})
	}

	return points, nil
}

func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	if _, err := f.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete point", goerr.V("collection", collection), goerr.V("id", id))
	}
	return nil
}

func (f *Firestore) DropCollection(ctx context.Context, collection string) error {
	bw := f.client.BulkWriter(ctx)

	iter := f.client.Collection(collection).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to list points", goerr.V("collection", collection))
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			return goerr.Wrap(err, "failed to enqueue delete", goerr.V("id", doc.Ref.ID))
		}
	}
	bw.End()

	if _, err := f.client.Collection(firestoreMetaName).Doc(collection).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete collection metadata", goerr.V("collection", collection))
	}
	return nil
}
