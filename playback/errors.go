package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/overlay-bot/catalog"
	"github.com/onnwee/overlay-bot/cooldown"
)

var (
	// ErrNotFound is returned when the requested sound or video is not in its catalog.
	ErrNotFound = catalog.ErrNotFound
	// ErrRejected is returned for Reject-mode requests that would have to wait.
	ErrRejected = errors.New("playback rejected: output busy")
	// ErrRecentlyPlayed is returned while an entry's own replay gap has not elapsed.
	ErrRecentlyPlayed = errors.New("played too recently")
	// ErrUnknownPlayback is returned by Ended for tokens that are not playing.
	ErrUnknownPlayback = errors.New("unknown playback token")
	ErrEmptyText       = errors.New("tts text is empty")
	ErrTTSDisabled     = errors.New("tts is not configured")
	ErrUnknownKind     = errors.New("unknown playback kind")
	ErrClosed          = errors.New("playback coordinator closed")
)

// ThrottledError reports a request refused by the requesting user's cooldown.
// Response is the chat-ready reply.
type ThrottledError struct {
	Category  cooldown.Category
	Remaining int
	Response  string
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled under %s for %ds", e.Category, e.Remaining)
}

// RecentlyPlayedError carries how long until the entry may play again.
type RecentlyPlayedError struct {
	Kind  Kind
	Name  string
	Retry time.Duration
}

func (e *RecentlyPlayedError) Error() string {
	return fmt.Sprintf("%s %q %s; retry in %ds", e.Kind, e.Name, ErrRecentlyPlayed, e.RetrySeconds())
}

// RetrySeconds is Retry in whole seconds, rounded up and at least 1.
func (e *RecentlyPlayedError) RetrySeconds() int {
	return max(int((e.Retry+time.Second-1)/time.Second), 1)
}

func (e *RecentlyPlayedError) Unwrap() error { return ErrRecentlyPlayed }
