package repository

import (
	"errors"
	"math"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

var (
	ErrCollectionNotFound = goerr.New("collection not found")
	ErrDimensionMismatch  = goerr.New("vector dimension mismatch")
	ErrEmptyVector        = goerr.New("vector is empty")
)

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankPoints sorts by score, highest first, and truncates to limit. Ties
// keep their original order.
func rankPoints(points []*model.VectorPoint, limit int) []*model.VectorPoint {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Score > points[j].Score
	})
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points
}

func copyPayload(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrCollectionNotFound)
}
