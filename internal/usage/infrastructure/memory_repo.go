package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantagecommodities/vantage/internal/usage/domain"
)

// MemoryRepository is the counter store used when no Redis is configured
// (single-binary development mode). Counters do not survive a restart.
type MemoryRepository struct {
	mu       sync.Mutex
	counters map[uuid.UUID]*domain.Metrics
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{counters: make(map[uuid.UUID]*domain.Metrics)}
}

func (r *MemoryRepository) Increment(_ context.Context, userID uuid.UUID, metric string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.counters[userID]
	if m == nil {
		m = &domain.Metrics{}
		r.counters[userID] = m
	}

	switch metric {
	case domain.MetricAPICalls:
		m.APICalls += delta
	case domain.MetricStorageBytes:
		m.StorageBytes += delta
	case domain.MetricActiveUsers:
		m.ActiveUsers += delta
	}
	m.LastUpdated = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userID uuid.UUID) (*domain.Metrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.counters[userID]; ok {
		copied := *m
		return &copied, nil
	}
	return &domain.Metrics{}, nil
}

func (r *MemoryRepository) Reset(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[userID] = &domain.Metrics{LastUpdated: time.Now().UTC()}
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.counters, userID)
	return nil
}

func (r *MemoryRepository) TopByAPICalls(_ context.Context, n int) ([]domain.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]domain.LeaderboardEntry, 0, len(r.counters))
	for id, m := range r.counters {
		entries = append(entries, domain.LeaderboardEntry{UserID: id, APICalls: m.APICalls})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].APICalls > entries[j].APICalls })

	if n >= 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries, nil
}
