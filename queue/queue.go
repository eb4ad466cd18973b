// Package queue implements the playback scheduler: an ordered list of jobs that
// serializes access to the audio and video outputs of the overlay.
//
// Jobs are pushed with a resource Class and an insertion Mode. A job becomes
// Active when nothing ahead of it holds an overlapping output, and leaves the
// queue when its owner calls Pop with the id Push returned. Popping cascades:
// every job at the front that no longer conflicts with an earlier one is
// activated in order.
//
// Handlers are invoked after the queue lock is released, so a handler may call
// Push or Pop on the same queue synchronously.
package queue

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/onnwee/overlay-bot/telemetry"
)

type job struct {
	id      ID
	class   Class
	state   State
	handler Handler
	done    chan struct{}
}

// Queue is safe for concurrent use.
type Queue struct {
	name string

	mu   sync.Mutex
	uid  ID
	jobs []*job
}

// Option configures a Queue.
type Option func(*Queue)

// WithName labels log lines when a process runs more than one queue.
func WithName(name string) Option { return func(q *Queue) { q.name = name } }

// New returns an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{name: "playback"}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push inserts a job and triggers it right away when nothing conflicts with it.
// It returns false only in Reject mode when a queued job overlaps class.
//
// Bypass jobs get an id but never enter the list, so they are invisible to
// conflict accounting and must not be popped.
func (q *Queue) Push(class Class, mode Mode, h Handler) (ID, bool) {
	if h == nil {
		h = func(ID) {}
	}

	if mode == Bypass {
		q.mu.Lock()
		q.uid++
		id := q.uid
		q.mu.Unlock()
		telemetry.RecordQueuePush(mode.String(), "bypass")
		q.log().Debug("queue bypass", slog.String("id", id.String()), slog.String("class", class.String()))
		h(id)
		return id, true
	}

	q.mu.Lock()
	c := q.lastConflict(class)
	if mode == Reject && c >= 0 {
		q.mu.Unlock()
		telemetry.RecordQueuePush(mode.String(), "rejected")
		q.log().Debug("queue push rejected", slog.String("class", class.String()), slog.String("blocked_by", q.idAt(c).String()))
		return NoID, false
	}

	q.uid++
	j := &job{id: q.uid, class: class, state: Idle, handler: h, done: make(chan struct{})}
	switch mode {
	case UpNext:
		q.jobs = slices.Insert(q.jobs, min(1, len(q.jobs)), j)
	default:
		if c < 0 {
			q.jobs = append(q.jobs, j)
		} else {
			q.jobs = slices.Insert(q.jobs, c+1, j)
		}
	}
	triggered := q.eagerTrigger()
	depth, active := q.counts()
	q.mu.Unlock()

	telemetry.RecordQueuePush(mode.String(), "queued")
	telemetry.SetQueueState(depth, active)
	q.log().Debug("queue push",
		slog.String("id", j.id.String()),
		slog.String("class", class.String()),
		slog.String("mode", mode.String()),
		slog.Int("depth", depth),
		slog.Int("triggered", len(triggered)))
	run(triggered)
	return j.id, true
}

// Pop removes a finished job and activates whatever it was blocking. It reports
// whether jobs remain. An unknown id leaves the queue untouched and returns an
// error wrapping ErrUnknownID.
func (q *Queue) Pop(id ID) (bool, error) {
	q.mu.Lock()
	i := q.indexOf(id)
	if i < 0 {
		remaining := len(q.jobs) > 0
		q.mu.Unlock()
		err := fmt.Errorf("pop %s: %w", id, ErrUnknownID)
		q.log().Error("queue pop of unknown id", slog.String("id", id.String()), slog.Any("err", err))
		return remaining, err
	}
	j := q.jobs[i]
	q.jobs = slices.Delete(q.jobs, i, i+1)
	close(j.done)

	var triggered []*job
	if len(q.jobs) > 0 {
		triggered = q.cascade()
	}
	remaining := len(q.jobs) > 0
	depth, active := q.counts()
	q.mu.Unlock()

	telemetry.RecordQueuePop()
	telemetry.SetQueueState(depth, active)
	q.log().Debug("queue pop",
		slog.String("id", id.String()),
		slog.Int("depth", depth),
		slog.Int("triggered", len(triggered)))
	run(triggered)
	return remaining, nil
}

// MustPop is Pop for callers that treat an unknown id as a programming error.
func (q *Queue) MustPop(id ID) bool {
	remaining, err := q.Pop(id)
	if err != nil {
		panic(err)
	}
	return remaining
}

// NextID returns the id the next successful Push will assign.
func (q *Queue) NextID() ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.uid + 1
}

// Done returns a channel closed once the job has been popped. Ids that were
// handed out but are no longer queued (popped or bypassed) yield a closed
// channel; ids never handed out report false.
func (q *Queue) Done(id ID) (<-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexOf(id); i >= 0 {
		return q.jobs[i].done, true
	}
	if id == NoID || id > q.uid {
		return nil, false
	}
	ch := make(chan struct{})
	close(ch)
	return ch, true
}

// Len returns the number of queued jobs, Active ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Snapshot returns the queue in priority order.
func (q *Queue) Snapshot() []JobInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]JobInfo, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, JobInfo{ID: j.id, Class: j.class, State: j.state})
	}
	return out
}

// lastConflict returns the index of the conflicting job nearest the tail, or -1.
func (q *Queue) lastConflict(class Class) int {
	for i := len(q.jobs) - 1; i >= 0; i-- {
		if Conflicts(class, q.jobs[i].class) {
			return i
		}
	}
	return -1
}

// eagerTrigger covers the two cases Push handles itself: a lone job, and a
// second job that shares nothing with the head. Deeper jobs wait for Pop.
func (q *Queue) eagerTrigger() []*job {
	switch len(q.jobs) {
	case 1:
		return activate(nil, q.jobs[0])
	case 2:
		if !Conflicts(q.jobs[0].class, q.jobs[1].class) {
			out := activate(nil, q.jobs[0])
			return activate(out, q.jobs[1])
		}
	}
	return nil
}

// cascade walks from the head activating Idle jobs until one overlaps the
// classes seen so far. A job is also held back while any Active job anywhere in
// the list owns one of its outputs, which UpNext can produce.
func (q *Queue) cascade() []*job {
	var busy Class
	for _, j := range q.jobs {
		if j.state == Active {
			busy |= j.class
		}
	}

	var out []*job
	var precedent Class
	for i, j := range q.jobs {
		if i > 0 && Conflicts(j.class, precedent) {
			break
		}
		precedent |= j.class
		if j.state == Active {
			continue
		}
		if Conflicts(j.class, busy) {
			break
		}
		out = activate(out, j)
		busy |= j.class
	}
	return out
}

func (q *Queue) indexOf(id ID) int {
	return slices.IndexFunc(q.jobs, func(j *job) bool { return j.id == id })
}

func (q *Queue) idAt(i int) ID {
	if i < 0 || i >= len(q.jobs) {
		return NoID
	}
	return q.jobs[i].id
}

func (q *Queue) counts() (depth, active int) {
	for _, j := range q.jobs {
		if j.state == Active {
			active++
		}
	}
	return len(q.jobs), active
}

func (q *Queue) log() *slog.Logger {
	return slog.Default().With(slog.String("component", "queue"), slog.String("queue", q.name))
}

func activate(out []*job, j *job) []*job {
	if j.state != Idle {
		return out
	}
	j.state = Active
	return append(out, j)
}

func run(triggered []*job) {
	for _, j := range triggered {
		j.handler(j.id)
	}
}
