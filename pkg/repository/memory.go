package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

type memoryPoint struct {
	vector  []float32
	payload map[string]string
}

type memoryCollection struct {
	dims   int
	points map[string]*memoryPoint
	order  []string
}

// Memory is a process-local VectorStore.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemory() *Memory {
	return &Memory{collections: map[string]*memoryCollection{}}
}

func (m *Memory) EnsureCollection(ctx context.Context, collection string, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[collection]; ok {
		if c.dims != dims {
			return goerr.Wrap(ErrDimensionMismatch, "collection exists with different dimensions",
				goerr.V("collection", collection), goerr.V("have", c.dims), goerr.V("want", dims))
		}
		return nil
	}

	m.collections[collection] = &memoryCollection{
		dims:   dims,
		points: map[string]*memoryPoint{},
	}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return goerr.Wrap(ErrCollectionNotFound, "cannot upsert", goerr.V("collection", collection))
	}
	if len(vector) != c.dims {
		return goerr.Wrap(ErrDimensionMismatch, "cannot upsert",
			goerr.V("collection", collection), goerr.V("have", len(vector)), goerr.V("want", c.dims))
	}

	if _, exists := c.points[id]; !exists {
		c.order = append(c.order, id)
	}
	c.points[id] = &memoryPoint{
		vector:  slices.Clone(vector),
		payload: copyPayload(payload),
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.VectorPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, goerr.Wrap(ErrCollectionNotFound, "cannot search", goerr.V("collection", collection))
	}
	if len(vector) != c.dims {
		return nil, goerr.Wrap(ErrDimensionMismatch, "cannot search",
			goerr.V("collection", collection), goerr.V("have", len(vector)), goerr.V("want", c.dims))
	}

	points := make([]*model.VectorPoint, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		points = append(points, &model.VectorPoint{
			ID:      id,
			Payload: copyPayload(p.payload),
			Score:   cosineSimilarity(vector, p.vector),
		})
	}
	return rankPoints(points, limit), nil
}

func (m *Memory) Scroll(ctx context.Context, collection string, limit int) ([]*model.VectorPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, goerr.Wrap(ErrCollectionNotFound, "cannot scroll", goerr.V("collection", collection))
	}

	points := make([]*model.VectorPoint, 0, len(c.order))
	for _, id := range c.order {
		if limit > 0 && len(points) >= limit {
			break
		}
		points = append(points, &model.VectorPoint{ID: id, Payload: copyPayload(c.points[id].payload)})
	}
	return points, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return goerr.Wrap(ErrCollectionNotFound, "cannot delete", goerr.V("collection", collection))
	}
	if _, exists := c.points[id]; !exists {
		return nil
	}
	delete(c.points, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	return nil
}

func (m *Memory) DropCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}
