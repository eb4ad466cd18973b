package chat

import (
	"strings"

	"github.com/onnwee/overlay-bot/user"
)

// Command is a parsed chat command such as "!sound airhorn".
type Command struct {
	Name    string
	Args    []string
	Raw     string // everything after the command name, trimmed
	User    user.User
	Channel string
}

// Arg returns the i-th argument or "".
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Parse splits message into a command when it starts with prefix.
func Parse(prefix, message string) (Command, bool) {
	message = strings.TrimSpace(message)
	if prefix == "" || !strings.HasPrefix(message, prefix) {
		return Command{}, false
	}
	body := strings.TrimSpace(message[len(prefix):])
	if body == "" {
		return Command{}, false
	}
	name, rest, _ := strings.Cut(body, " ")
	rest = strings.TrimSpace(rest)
	return Command{
		Name: strings.ToLower(name),
		Args: strings.Fields(rest),
		Raw:  rest,
	}, true
}
