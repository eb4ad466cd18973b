// Package cooldown tracks per-user throttles that gate requests before they
// reach the playback queue.
package cooldown

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/overlay-bot/user"
)

// Table holds one expiry per (user, category). A zero Table is not usable; use New.
type Table struct {
	mu      sync.RWMutex
	now     func() time.Time
	phrases *Phrases
	records map[string]map[Category]time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option { return func(t *Table) { t.now = now } }

// WithPhrases sets the pool Response draws from.
func WithPhrases(p *Phrases) Option { return func(t *Table) { t.phrases = p } }

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{now: time.Now, records: make(map[string]map[Category]time.Time)}
	for _, o := range opts {
		o(t)
	}
	if t.phrases == nil {
		t.phrases = NewPhrases()
	}
	return t
}

// Set throttles u under c for d, replacing any earlier record for the same pair.
func (t *Table) Set(u user.User, c Category, d time.Duration) {
	key := u.Key()
	t.mu.Lock()
	defer t.mu.Unlock()
	recs, ok := t.records[key]
	if !ok {
		recs = make(map[Category]time.Time)
		t.records[key] = recs
	}
	recs[c] = t.now().Add(d)
}

// IsActive reports whether any unexpired record of u overlaps q.
func (t *Table) IsActive(u user.User, q Category) bool {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for c, exp := range t.records[u.Key()] {
		if c.Overlaps(q) && exp.After(now) {
			return true
		}
	}
	return false
}

// RemainingSeconds returns the whole seconds, rounded up, left on the record
// stored under exactly c. Absent or expired records report 0.
func (t *Table) RemainingSeconds(u user.User, c Category) int {
	now := t.now()
	t.mu.RLock()
	exp, ok := t.records[u.Key()][c]
	t.mu.RUnlock()
	if !ok || !exp.After(now) {
		return 0
	}
	left := exp.Sub(now)
	return int((left + time.Second - 1) / time.Second)
}

// Response formats the chat reply for a throttled request.
func (t *Table) Response(u user.User, c Category, suffix string) string {
	n := t.RemainingSeconds(u, c)
	var b strings.Builder
	fmt.Fprintf(&b, "%s! %s Wait %d second", u.DisplayName(), t.phrases.Random(), n)
	if n != 1 {
		b.WriteByte('s')
	}
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return b.String()
}

// PurgeExpired drops records that can no longer affect any query and returns
// how many were removed.
func (t *Table) PurgeExpired() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, recs := range t.records {
		for c, exp := range recs {
			if !exp.After(now) {
				delete(recs, c)
				n++
			}
		}
		if len(recs) == 0 {
			delete(t.records, key)
		}
	}
	return n
}

// Users returns the number of users holding at least one record.
func (t *Table) Users() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
