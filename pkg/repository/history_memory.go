package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/talk2sql/pkg/model"
)

// MemoryHistory keeps attempts in process memory. It is the fallback when
// durable history cannot be opened.
type MemoryHistory struct {
	mu       sync.RWMutex
	attempts []*model.QueryAttempt
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) PutAttempt(ctx context.Context, attempt *model.QueryAttempt) error {
	copied := *attempt
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, &copied)
	return nil
}

func (h *MemoryHistory) ListAttempts(ctx context.Context, filter model.HistoryFilter) ([]*model.QueryAttempt, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*model.QueryAttempt
	for i := len(h.attempts) - 1; i >= 0; i-- {
		if filter.Match(h.attempts[i]) {
			out = append(out, h.attempts[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (h *MemoryHistory) Close() error {
	return nil
}
