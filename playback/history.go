package playback

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/overlay-bot/db"
)

// History records playbacks. *db.History satisfies it; MemoryHistory is used
// when no database is configured.
type History interface {
	Record(ctx context.Context, e db.Entry) error
	Finish(ctx context.Context, token, reason string, at time.Time) error
	LastPlayed(ctx context.Context, kind, name string) (time.Time, bool, error)
	Recent(ctx context.Context, limit int) ([]db.Entry, error)
}

const memoryHistoryCap = 512

// MemoryHistory keeps the most recent playbacks in memory.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []db.Entry
}

// NewMemoryHistory returns an empty in-memory history.
func NewMemoryHistory() *MemoryHistory { return &MemoryHistory{} }

func (m *MemoryHistory) Record(_ context.Context, e db.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if len(m.entries) > memoryHistoryCap {
		m.entries = slices.Delete(m.entries, 0, len(m.entries)-memoryHistoryCap)
	}
	return nil
}

func (m *MemoryHistory) Finish(_ context.Context, token, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Token == token && m.entries[i].EndedAt == nil {
			m.entries[i].EndedAt = &at
			m.entries[i].EndReason = reason
			return nil
		}
	}
	return nil
}

func (m *MemoryHistory) LastPlayed(_ context.Context, kind, name string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if e := m.entries[i]; e.Kind == kind && e.Name == name {
			return e.PlayedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (m *MemoryHistory) Recent(_ context.Context, limit int) ([]db.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]db.Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
