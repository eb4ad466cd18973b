// Package playback turns play requests into queued overlay playbacks. It gates
// requests through the user cooldown table, schedules them on the playback
// queue, announces them to the overlay and pops them once the overlay reports
// completion, the watchdog fires or the request is skipped.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/overlay-bot/catalog"
	"github.com/onnwee/overlay-bot/cooldown"
	"github.com/onnwee/overlay-bot/db"
	"github.com/onnwee/overlay-bot/overlay"
	"github.com/onnwee/overlay-bot/queue"
	"github.com/onnwee/overlay-bot/telemetry"
	"github.com/onnwee/overlay-bot/user"
)

// Kind is what is being played.
type Kind string

const (
	KindSound Kind = "sound"
	KindTTS   Kind = "tts"
	KindVideo Kind = "video"
)

// ParseKind accepts sound, tts and video.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSound, KindTTS, KindVideo:
		return k, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownKind)
}

// Category returns the cooldown category requests of this kind are gated by.
func (k Kind) Category() cooldown.Category {
	switch k {
	case KindSound:
		return cooldown.SoundFile
	case KindTTS:
		return cooldown.SoundTTS
	case KindVideo:
		return cooldown.Video
	}
	return cooldown.Other
}

func (k Kind) throttleSuffix() string {
	switch k {
	case KindTTS:
		return "before sending another message."
	case KindVideo:
		return "before playing another video."
	}
	return "before playing another sound."
}

// End reasons recorded in history and metrics.
const (
	ReasonCompleted = "completed"
	ReasonSkipped   = "skipped"
	ReasonTimeout   = "timeout"
	ReasonShutdown  = "shutdown"
)

// Config tunes admission and the watchdog.
type Config struct {
	CooldownEnabled bool
	// Cooldowns holds the per-user cooldown started for each leaf category on admission.
	Cooldowns map[cooldown.Category]time.Duration
	// Timeout releases a playback the overlay never reports as ended. Zero disables it.
	Timeout time.Duration
	// TTSURI is a URL template; {text} is replaced by the escaped message.
	TTSURI string
}

// Deps are the collaborators a Coordinator drives. Queue, Cooldowns and Hub are
// required.
type Deps struct {
	Queue     *queue.Queue
	Cooldowns *cooldown.Table
	Sounds    *catalog.Catalog[catalog.Sound]
	Videos    *catalog.Catalog[catalog.Video]
	Hub       *overlay.Hub
	History   History
	Clock     func() time.Time
}

// Request asks for one playback.
type Request struct {
	Kind Kind
	Name string
	Text string
	User user.User
	Mode queue.Mode
	// Exempt skips the cooldown gate and does not start a cooldown.
	Exempt bool
}

// Ticket describes an admitted request.
type Ticket struct {
	ID    queue.ID    `json:"id"`
	Token string      `json:"token"`
	Kind  Kind        `json:"kind"`
	Name  string      `json:"name"`
	Class queue.Class `json:"class"`
}

// Info is a view of an Active playback.
type Info struct {
	Token     string      `json:"token"`
	ID        queue.ID    `json:"id"`
	Kind      Kind        `json:"kind"`
	Name      string      `json:"name"`
	User      string      `json:"user,omitempty"`
	Class     queue.Class `json:"class"`
	StartedAt time.Time   `json:"started_at"`
}

type playback struct {
	Info
	uri    string
	text   string
	volume float64
	width  int
	height int
	bypass bool
	end    chan string
	done   chan struct{}
}

func (p *playback) event(t overlay.EventType) overlay.Event {
	ev := overlay.Event{Type: t, Token: p.Token, Kind: string(p.Kind), Name: p.Name}
	if t == overlay.EventPlay {
		ev.URI, ev.Text, ev.Volume = p.uri, p.text, p.volume
		ev.Width, ev.Height, ev.User = p.width, p.height, p.User
	}
	return ev
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	cfg       Config
	q         *queue.Queue
	cooldowns *cooldown.Table
	sounds    *catalog.Catalog[catalog.Sound]
	videos    *catalog.Catalog[catalog.Video]
	hub       *overlay.Hub
	history   History
	now       func() time.Time

	// admit makes the cooldown check, the push and the cooldown start one step.
	admit sync.Mutex

	mu     sync.Mutex
	active map[string]*playback
	paused bool
	closed bool
	// bypassed tracks Active bypass playbacks, which the queue never holds.
	bypassed map[queue.ID]*playback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a running coordinator; call Close to release in-flight playbacks.
func New(cfg Config, d Deps) *Coordinator {
	if d.History == nil {
		d.History = NewMemoryHistory()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:       cfg,
		q:         d.Queue,
		cooldowns: d.Cooldowns,
		sounds:    d.Sounds,
		videos:    d.Videos,
		hub:       d.Hub,
		history:   d.History,
		now:       d.Clock,
		active:    make(map[string]*playback),
		bypassed:  make(map[queue.ID]*playback),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Queue exposes the underlying scheduler.
func (c *Coordinator) Queue() *queue.Queue { return c.q }

// History exposes the playback history.
func (c *Coordinator) History() History { return c.history }

// Play admits req, or explains why not: ErrNotFound, *RecentlyPlayedError,
// *ThrottledError, ErrRejected.
func (c *Coordinator) Play(ctx context.Context, req Request) (Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "playback", "playback.Play",
		telemetry.PlaybackKindAttr(string(req.Kind)), telemetry.PlaybackNameAttr(req.Name))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "playback"))

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Ticket{}, ErrClosed
	}

	p, gap, err := c.resolve(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return Ticket{}, err
	}
	if err := c.checkReplay(ctx, p, gap); err != nil {
		log.Debug("replay guard", slog.String("kind", string(p.Kind)), slog.String("name", p.Name), slog.Any("err", err))
		return Ticket{}, err
	}

	cat := req.Kind.Category()
	gated := c.cfg.CooldownEnabled && !req.Exempt

	c.admit.Lock()
	defer c.admit.Unlock()
	if gated && c.cooldowns.IsActive(req.User, cat) {
		telemetry.RecordThrottled(cat.String())
		return Ticket{}, &ThrottledError{
			Category:  cat,
			Remaining: c.cooldowns.RemainingSeconds(req.User, cat),
			Response:  c.cooldowns.Response(req.User, cat, req.Kind.throttleSuffix()),
		}
	}

	id, ok := c.q.Push(p.Class, req.Mode, func(id queue.ID) { c.start(p, id) })
	if !ok {
		return Ticket{}, ErrRejected
	}
	if gated {
		if d := c.cfg.Cooldowns[cat]; d > 0 {
			c.cooldowns.Set(req.User, cat, d)
		}
	}
	span.SetAttributes(telemetry.QueueIDAttr(id.String()))
	telemetry.SetSpanSuccess(span)
	log.Info("playback admitted",
		slog.String("id", id.String()),
		slog.String("kind", string(p.Kind)),
		slog.String("name", p.Name),
		slog.String("user", p.User),
		slog.String("mode", req.Mode.String()))
	return Ticket{ID: id, Token: p.Token, Kind: p.Kind, Name: p.Name, Class: p.Class}, nil
}

func (c *Coordinator) resolve(req Request) (*playback, time.Duration, error) {
	p := &playback{
		Info:   Info{Token: uuid.NewString(), Kind: req.Kind, User: req.User.Login},
		volume: 1,
		bypass: req.Mode == queue.Bypass,
		end:    make(chan string, 1),
		done:   make(chan struct{}),
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	var gap time.Duration

	switch req.Kind {
	case KindSound:
		if c.sounds == nil {
			return nil, 0, fmt.Errorf("sound %q: %w", req.Name, ErrNotFound)
		}
		s, err := c.sounds.Get(name)
		if err != nil {
			return nil, 0, err
		}
		p.Name, p.uri, p.volume, p.Class = name, s.URI, s.Level(), queue.Audio
		gap = s.ReplayGap()
	case KindVideo:
		if c.videos == nil {
			return nil, 0, fmt.Errorf("video %q: %w", req.Name, ErrNotFound)
		}
		v, err := c.videos.Get(name)
		if err != nil {
			return nil, 0, err
		}
		p.Name, p.uri, p.volume, p.Class = name, v.URI, v.Level(), queue.AudioVideo
		p.width, p.height = v.Width, v.Height
		if v.Muted {
			p.Class, p.volume = queue.Video, 0
		}
		gap = v.ReplayGap()
	case KindTTS:
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return nil, 0, ErrEmptyText
		}
		if c.cfg.TTSURI == "" {
			return nil, 0, ErrTTSDisabled
		}
		p.Name, p.text, p.Class = string(KindTTS), text, queue.Audio
		p.uri = strings.ReplaceAll(c.cfg.TTSURI, "{text}", url.QueryEscape(text))
	default:
		return nil, 0, fmt.Errorf("%q: %w", req.Kind, ErrUnknownKind)
	}
	return p, gap, nil
}

func (c *Coordinator) checkReplay(ctx context.Context, p *playback, gap time.Duration) error {
	if gap <= 0 {
		return nil
	}
	last, ok, err := c.history.LastPlayed(ctx, string(p.Kind), p.Name)
	if err != nil {
		slog.Warn("replay guard lookup failed; allowing", slog.String("component", "playback"), slog.String("name", p.Name), slog.Any("err", err))
		return nil
	}
	if !ok {
		return nil
	}
	if since := c.now().Sub(last); since < gap {
		return &RecentlyPlayedError{Kind: p.Kind, Name: p.Name, Retry: gap - since}
	}
	return nil
}

// start is the queue handler. It runs with the queue unlocked and must not block.
func (c *Coordinator) start(p *playback, id queue.ID) {
	p.ID = id
	p.StartedAt = c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(p.done)
		if !p.bypass {
			_, _ = c.q.Pop(id)
		}
		return
	}
	c.active[p.Token] = p
	if p.bypass {
		c.bypassed[id] = p
	}
	c.wg.Add(1)
	c.mu.Unlock()

	hctx, cancel := context.WithTimeout(c.ctx, 2*time.Second)
	if err := c.history.Record(hctx, db.Entry{
		Token: p.Token, QueueID: id.String(), Kind: string(p.Kind), Name: p.Name, User: p.User, PlayedAt: p.StartedAt,
	}); err != nil {
		slog.Warn("failed to record playback", slog.String("component", "playback"), slog.String("token", p.Token), slog.Any("err", err))
	}
	cancel()

	c.hub.Publish(p.event(overlay.EventPlay))
	telemetry.RecordPlaybackStart(string(p.Kind))
	slog.Debug("playback started", slog.String("component", "playback"), slog.String("id", id.String()), slog.String("token", p.Token), slog.String("name", p.Name))
	go c.await(p)
}

// await holds the job Active until the overlay, a skip, the watchdog or
// shutdown ends it.
func (c *Coordinator) await(p *playback) {
	defer c.wg.Done()

	var timeout <-chan time.Time
	if c.cfg.Timeout > 0 {
		t := time.NewTimer(c.cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var reason string
	select {
	case reason = <-p.end:
	case <-timeout:
		reason = ReasonTimeout
		c.hub.Publish(p.event(overlay.EventCancel))
		slog.Warn("playback watchdog fired; releasing outputs",
			slog.String("component", "playback"),
			slog.String("token", p.Token),
			slog.String("name", p.Name),
			slog.Duration("timeout", c.cfg.Timeout))
	case <-c.ctx.Done():
		reason = ReasonShutdown
	}
	c.finish(p, reason)
}

func (c *Coordinator) finish(p *playback, reason string) {
	c.mu.Lock()
	delete(c.active, p.Token)
	if p.bypass {
		delete(c.bypassed, p.ID)
	}
	c.mu.Unlock()
	defer close(p.done)

	ended := c.now()
	hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := c.history.Finish(hctx, p.Token, reason, ended); err != nil {
		slog.Warn("failed to finish playback record", slog.String("component", "playback"), slog.String("token", p.Token), slog.Any("err", err))
	}
	cancel()
	telemetry.RecordPlaybackEnd(string(p.Kind), reason, ended.Sub(p.StartedAt))
	slog.Debug("playback ended", slog.String("component", "playback"), slog.String("token", p.Token), slog.String("reason", reason))

	if p.bypass {
		return
	}
	if _, err := c.q.Pop(p.ID); err != nil {
		slog.Error("playback pop failed", slog.String("component", "playback"), slog.String("id", p.ID.String()), slog.Any("err", err))
	}
}

// Ended is the overlay's completion callback for token.
func (c *Coordinator) Ended(token string) error {
	c.mu.Lock()
	p, ok := c.active[token]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", token, ErrUnknownPlayback)
	}
	select {
	case p.end <- ReasonCompleted:
	default:
	}
	return nil
}

// Skip cancels the Active playbacks for which match returns true, or all of
// them when match is nil, and returns how many were cancelled. Cancelling is
// completion: the overlay is told to stop and the job is popped.
func (c *Coordinator) Skip(match func(Info) bool) int {
	c.mu.Lock()
	var hit []*playback
	for _, p := range c.active {
		if match == nil || match(p.Info) {
			hit = append(hit, p)
		}
	}
	c.mu.Unlock()

	for _, p := range hit {
		c.hub.Publish(p.event(overlay.EventCancel))
		select {
		case p.end <- ReasonSkipped:
		default:
		}
	}
	return len(hit)
}

// SkipAll cancels every Active playback.
func (c *Coordinator) SkipAll() int { return c.Skip(nil) }

// Pause asks the overlay to pause rendering. The queue is untouched and the
// watchdog keeps running.
func (c *Coordinator) Pause() { c.setPaused(true) }

// Resume undoes Pause.
func (c *Coordinator) Resume() { c.setPaused(false) }

func (c *Coordinator) setPaused(v bool) {
	c.mu.Lock()
	changed := c.paused != v
	c.paused = v
	c.mu.Unlock()
	if !changed {
		return
	}
	t := overlay.EventResume
	if v {
		t = overlay.EventPause
	}
	c.hub.Publish(overlay.Event{Type: t})
}

// Paused reports whether the overlay was last told to pause.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Closed reports whether Close has been called.
func (c *Coordinator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Active returns the playbacks currently holding outputs, oldest first.
func (c *Coordinator) Active() []Info {
	c.mu.Lock()
	out := make([]Info, 0, len(c.active))
	for _, p := range c.active {
		out = append(out, p.Info)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b Info) int {
		if d := a.StartedAt.Compare(b.StartedAt); d != 0 {
			return d
		}
		return int(a.ID) - int(b.ID)
	})
	return out
}

// Wait blocks until the job behind id has left the queue. For a bypass job it
// blocks until the playback ends.
func (c *Coordinator) Wait(ctx context.Context, id queue.ID) error {
	c.mu.Lock()
	p, bypassed := c.bypassed[id]
	c.mu.Unlock()

	var done <-chan struct{}
	if bypassed {
		done = p.done
	} else {
		ch, ok := c.q.Done(id)
		if !ok {
			return fmt.Errorf("wait %s: %w", id, queue.ErrUnknownID)
		}
		done = ch
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends every Active playback, drains jobs triggered by the resulting
// pops and waits for them. Play fails with ErrClosed afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
