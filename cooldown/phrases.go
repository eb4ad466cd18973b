package cooldown

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/onnwee/overlay-bot/source"
)

var defaultPhrases = []string{
	"Slow down!",
	"Easy there.",
	"Patience, please.",
	"Not so fast!",
	"Hold your horses.",
}

// Phrases is the pool of openers used in throttle replies. It is safe for
// concurrent use and may be reloaded while in use.
type Phrases struct {
	uri string

	mu   sync.RWMutex
	list []string
}

// NewPhrases returns a pool holding list, or the built-in phrases when list is empty.
func NewPhrases(list ...string) *Phrases {
	p := &Phrases{}
	p.set(list)
	return p
}

// LoadPhrases builds a pool backed by uri and loads it once.
func LoadPhrases(ctx context.Context, uri string) (*Phrases, error) {
	p := &Phrases{uri: uri}
	p.set(nil)
	if err := p.Reload(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// URI returns the backing location, empty for in-memory pools.
func (p *Phrases) URI() string { return p.uri }

// Reload re-reads the backing document. Plain text files hold one phrase per
// line; .json and .yaml files hold a list of strings. On error the current
// pool is kept.
func (p *Phrases) Reload(ctx context.Context) error {
	if p.uri == "" {
		return nil
	}
	data, err := source.Read(ctx, p.uri)
	if err != nil {
		return err
	}
	var list []string
	switch source.Ext(p.uri) {
	case ".json", ".yaml", ".yml":
		if err := source.Decode(p.uri, data, &list); err != nil {
			return err
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			list = append(list, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", p.uri, err)
		}
	}
	n := p.set(list)
	slog.Info("cooldown phrases loaded", slog.String("component", "cooldown"), slog.String("uri", p.uri), slog.Int("count", n))
	return nil
}

// Random returns a phrase; never empty.
func (p *Phrases) Random() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.list[rand.IntN(len(p.list))]
}

// Len returns the number of phrases in the pool.
func (p *Phrases) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.list)
}

func (p *Phrases) set(list []string) int {
	clean := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" && !strings.HasPrefix(s, "#") {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		clean = append(clean, defaultPhrases...)
	}
	p.mu.Lock()
	p.list = clean
	p.mu.Unlock()
	return len(clean)
}
