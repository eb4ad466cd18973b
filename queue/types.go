package queue

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/onnwee/overlay-bot/mask"
)

// Class identifies which exclusive output(s) a job occupies.
type Class uint8

const (
	Audio      Class = 0b01
	Video      Class = 0b10
	AudioVideo Class = Audio | Video
)

// Conflicts reports whether two jobs with the given classes need a shared output.
func Conflicts(a, b Class) bool { return mask.Overlaps(a, b) }

func (c Class) String() string {
	switch c {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case AudioVideo:
		return "audio+video"
	default:
		return fmt.Sprintf("class(%#b)", uint8(c))
	}
}

// MarshalText renders the class by name for JSON status payloads.
func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ParseClass is the inverse of Class.String.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "sound":
		return Audio, nil
	case "video":
		return Video, nil
	case "audio+video", "audiovideo", "both":
		return AudioVideo, nil
	}
	return 0, fmt.Errorf("unknown resource class %q", s)
}

// Mode selects the insertion policy used by Push.
type Mode int

const (
	// Enqueue inserts behind the nearest conflicting job, or at the tail.
	Enqueue Mode = iota
	// UpNext inserts directly behind the head.
	UpNext
	// Bypass runs the handler immediately without entering the queue.
	Bypass
	// Reject refuses the job if anything queued conflicts with it.
	Reject
)

func (m Mode) String() string {
	switch m {
	case Enqueue:
		return "enqueue"
	case UpNext:
		return "upnext"
	case Bypass:
		return "bypass"
	case Reject:
		return "reject"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode is the inverse of Mode.String. The empty string means Enqueue.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "enqueue":
		return Enqueue, nil
	case "upnext", "up_next", "next":
		return UpNext, nil
	case "bypass":
		return Bypass, nil
	case "reject":
		return Reject, nil
	}
	return Enqueue, fmt.Errorf("unknown queue mode %q", s)
}

// ID is the opaque handle returned by Push. Ids are never reused.
type ID uint64

// NoID is never assigned to a job.
const NoID ID = 0

func (id ID) String() string { return strconv.FormatUint(uint64(id), 16) }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// ParseID parses the hex form produced by ID.String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 64)
	if err != nil {
		return NoID, fmt.Errorf("invalid queue id %q: %w", s, err)
	}
	return ID(v), nil
}

// State is the lifecycle state of a queued job.
type State string

const (
	Idle   State = "idle"
	Active State = "active"
)

// Handler starts the job's work. It runs once, when the job becomes Active, and
// must eventually lead to Pop(id); otherwise the job holds its outputs forever.
type Handler func(id ID)

// JobInfo is a read-only view of a queued job.
type JobInfo struct {
	ID    ID    `json:"id"`
	Class Class `json:"class"`
	State State `json:"state"`
}
