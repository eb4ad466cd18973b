// Package catalog holds the named sounds and videos the bot can play. Entries
// are loaded from a JSON or YAML document, validated, and may be reloaded while
// the bot runs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/onnwee/overlay-bot/source"
)

var (
	ErrNotFound  = errors.New("catalog entry not found")
	ErrDuplicate = errors.New("catalog entry already registered")
	ErrEmptyName = errors.New("catalog entry name is empty")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Sound is a playable sound effect.
type Sound struct {
	URI string `json:"uri" yaml:"uri" validate:"required"`
	// Volume in 0..1; nil plays at full volume.
	Volume *float64 `json:"volume,omitempty" yaml:"volume,omitempty" validate:"omitempty,gte=0,lte=1"`
	// Cooldown is the minimum gap, in seconds, between two plays of this sound.
	Cooldown float64 `json:"cooldown,omitempty" yaml:"cooldown,omitempty" validate:"gte=0"`
}

// Video is a playable clip.
type Video struct {
	URI      string   `json:"uri" yaml:"uri" validate:"required"`
	Volume   *float64 `json:"volume,omitempty" yaml:"volume,omitempty" validate:"omitempty,gte=0,lte=1"`
	Cooldown float64  `json:"cooldown,omitempty" yaml:"cooldown,omitempty" validate:"gte=0"`
	// Muted clips only occupy the video output.
	Muted  bool `json:"muted,omitempty" yaml:"muted,omitempty"`
	Width  int  `json:"width,omitempty" yaml:"width,omitempty" validate:"gte=0"`
	Height int  `json:"height,omitempty" yaml:"height,omitempty" validate:"gte=0"`
}

// Level returns the playback volume.
func (s Sound) Level() float64 { return level(s.Volume) }

// Level returns the playback volume.
func (v Video) Level() float64 { return level(v.Volume) }

// ReplayGap returns the per-entry replay guard as a duration.
func (s Sound) ReplayGap() time.Duration { return seconds(s.Cooldown) }

// ReplayGap returns the per-entry replay guard as a duration.
func (v Video) ReplayGap() time.Duration { return seconds(v.Cooldown) }

func level(v *float64) float64 {
	if v == nil {
		return 1
	}
	return *v
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// Entry constrains the item types a Catalog can hold.
type Entry interface {
	Sound | Video
}

// Catalog maps lowercase names to entries. It is safe for concurrent use.
type Catalog[T Entry] struct {
	kind string
	uri  string

	mu      sync.RWMutex
	entries map[string]T
}

// New returns an empty catalog of the given kind backed by uri. An empty uri
// yields a catalog populated only through Register.
func New[T Entry](kind, uri string) *Catalog[T] {
	return &Catalog[T]{kind: kind, uri: uri, entries: make(map[string]T)}
}

// NewSounds returns a sound catalog backed by uri.
func NewSounds(uri string) *Catalog[Sound] { return New[Sound]("sound", uri) }

// NewVideos returns a video catalog backed by uri.
func NewVideos(uri string) *Catalog[Video] { return New[Video]("video", uri) }

// Kind names the entry type, for logs.
func (c *Catalog[T]) Kind() string { return c.kind }

// URI returns the backing document location.
func (c *Catalog[T]) URI() string { return c.uri }

// Reload fetches the backing document and merges its entries over the current
// ones. Entries absent from the document are kept. The whole document is
// rejected if any entry fails validation.
func (c *Catalog[T]) Reload(ctx context.Context) error {
	if c.uri == "" {
		return nil
	}
	var doc map[string]T
	if err := source.Load(ctx, c.uri, &doc); err != nil {
		return fmt.Errorf("load %s catalog: %w", c.kind, err)
	}
	fresh := make(map[string]T, len(doc))
	for name, e := range doc {
		key := normalize(name)
		if key == "" {
			return fmt.Errorf("%s catalog %s: %w", c.kind, c.uri, ErrEmptyName)
		}
		if err := validate.Struct(e); err != nil {
			return fmt.Errorf("%s %q: %w", c.kind, name, err)
		}
		fresh[key] = e
	}

	c.mu.Lock()
	for k, e := range fresh {
		c.entries[k] = e
	}
	total := len(c.entries)
	c.mu.Unlock()

	slog.Info("catalog loaded",
		slog.String("component", "catalog"),
		slog.String("kind", c.kind),
		slog.String("uri", c.uri),
		slog.Int("loaded", len(fresh)),
		slog.Int("total", total))
	return nil
}

// Register adds a single entry. Names are case-insensitive.
func (c *Catalog[T]) Register(name string, e T) error {
	key := normalize(name)
	if key == "" {
		return ErrEmptyName
	}
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%s %q: %w", c.kind, name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return fmt.Errorf("%s %q: %w", c.kind, name, ErrDuplicate)
	}
	c.entries[key] = e
	return nil
}

// Get looks up name.
func (c *Catalog[T]) Get(name string) (T, error) {
	c.mu.RLock()
	e, ok := c.entries[normalize(name)]
	c.mu.RUnlock()
	if !ok {
		return e, fmt.Errorf("%s %q: %w", c.kind, name, ErrNotFound)
	}
	return e, nil
}

// Has reports whether name is registered.
func (c *Catalog[T]) Has(name string) bool {
	_, err := c.Get(name)
	return err == nil
}

// Names returns all entry names sorted.
func (c *Catalog[T]) Names() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Len returns the number of entries.
func (c *Catalog[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
