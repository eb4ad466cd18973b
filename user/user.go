// Package user describes chat participants as the rest of the bot sees them.
package user

import (
	"strings"

	"github.com/onnwee/overlay-bot/mask"
)

// Status is a bitmask of the roles a user holds in the channel.
type Status uint8

const (
	Follower Status = 1 << iota
	Subscriber
	VIP
	Moderator
	Broadcaster
)

// Privileged covers the roles allowed to run moderation commands.
const Privileged = Moderator | Broadcaster

// Has reports whether s holds any role in q.
func (s Status) Has(q Status) bool { return mask.Overlaps(s, q) }

func (s Status) String() string {
	if s == 0 {
		return "viewer"
	}
	names := []struct {
		bit  Status
		name string
	}{
		{Follower, "follower"},
		{Subscriber, "subscriber"},
		{VIP, "vip"},
		{Moderator, "moderator"},
		{Broadcaster, "broadcaster"},
	}
	var parts []string
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// StatusFromBadges derives a Status from Twitch IRC badge tags.
func StatusFromBadges(badges map[string]int) Status {
	var s Status
	for badge := range badges {
		switch badge {
		case "broadcaster":
			s |= Broadcaster
		case "moderator":
			s |= Moderator
		case "vip":
			s |= VIP
		case "subscriber", "founder":
			s |= Subscriber
		}
	}
	return s
}

// User is a chat participant.
type User struct {
	ID     string `json:"id"`
	Login  string `json:"login"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Key identifies the user in per-user tables. Logins are case-insensitive on
// Twitch; the numeric id is used when no login is known.
func (u User) Key() string {
	if u.Login != "" {
		return strings.ToLower(u.Login)
	}
	return u.ID
}

// DisplayName is the name to address the user by in chat.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Login != "":
		return u.Login
	default:
		return u.ID
	}
}

// Has reports whether the user holds any role in q.
func (u User) Has(q Status) bool { return u.Status.Has(q) }
