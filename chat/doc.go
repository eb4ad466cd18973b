// Package chat is the Twitch chat front end of the overlay.
//
// A Bot joins one channel over IRC, parses prefixed messages ("!sound airhorn")
// into Commands and dispatches them through a Registry. The Registry enforces
// per-command permissions and the Command cooldown, and counts executions.
// RegisterBuiltins installs the media commands (sound, tts, video), the
// listings (sounds, videos, queue) and the moderator controls (skip, pause,
// resume).
//
// Replies are paced through an Outbox so the bot stays under Twitch's message
// rate limit; replies that cannot be queued are dropped.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes, supplied as TWITCH_BOT_USERNAME and
// TWITCH_OAUTH_TOKEN.
package chat
