package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MockFileServer serves in-memory documents by path, standing in for a remote
// catalog or phrase host.
type MockFileServer struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string]string
	hits  map[string]int
}

// NewMockFileServer starts a server closed at test cleanup.
func NewMockFileServer(t *testing.T) *MockFileServer {
	t.Helper()
	m := &MockFileServer{files: make(map[string]string), hits: make(map[string]int)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		body, ok := m.files[r.URL.Path]
		m.hits[r.URL.Path]++
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body)) //nolint:errcheck // test mock response
	}))
	t.Cleanup(m.Close)
	return m
}

// Set publishes body at path.
func (m *MockFileServer) Set(path, body string) {
	m.mu.Lock()
	m.files[path] = body
	m.mu.Unlock()
}

// Hits returns how many times path was requested.
func (m *MockFileServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}
