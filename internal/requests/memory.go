package requests

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]Record{},
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, id string, input CreateInput) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return Record{}, ErrDuplicateID
	}
	now := s.now().UTC()
	rec := Record{
		ID:            id,
		UserID:        input.UserID,
		Region:        input.Region,
		Store:         input.Store,
		Type:          input.Type,
		Payload:       maps.Clone(input.Payload),
		AttachmentRef: input.AttachmentRef,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.records[id] = rec
	s.order = append(s.order, id)
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Record, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if !matches(rec, filter) {
			continue
		}
		items = append(items, rec)
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, response string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status.Terminal() {
		return Record{}, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, rec.ID, rec.Status)
	}
	rec.Status = status
	rec.OperatorResponse = response
	rec.UpdatedAt = s.now().UTC()
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) Filters(_ context.Context) (Filters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stores := map[string]struct{}{}
	regions := map[string]struct{}{}
	for _, rec := range s.records {
		if rec.Store != "" {
			stores[rec.Store] = struct{}{}
		}
		if rec.Region != "" {
			regions[rec.Region] = struct{}{}
		}
	}
	return Filters{
		Stores:   slices.Sorted(maps.Keys(stores)),
		Regions:  slices.Sorted(maps.Keys(regions)),
		Statuses: AllStatuses(),
	}, nil
}

func (s *MemoryStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{ByStore: map[string]int{}, ByRegion: map[string]int{}}
	dayStart := startOfDay(now)
	for _, rec := range s.records {
		stats.Total++
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusInProgress:
			stats.InProgress++
		case StatusCompleted:
			stats.Completed++
		case StatusRejected:
			stats.Rejected++
		}
		if !rec.CreatedAt.Before(dayStart) {
			stats.Today++
		}
		stats.ByStore[rec.Store]++
		stats.ByRegion[rec.Region]++
	}
	return stats, nil
}

func matches(rec Record, filter Filter) bool {
	if filter.UserID != "" && rec.UserID != filter.UserID {
		return false
	}
	if filter.Store != "" && rec.Store != filter.Store {
		return false
	}
	if filter.Region != "" && rec.Region != filter.Region {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	return true
}
