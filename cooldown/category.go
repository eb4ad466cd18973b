package cooldown

import (
	"fmt"
	"strings"

	"github.com/onnwee/overlay-bot/mask"
)

// Category is a throttle category. Leaf categories are single bits; the
// meta categories are unions used as queries.
type Category uint8

const (
	SoundFile Category = 1 << iota
	SoundTTS
	Video
	Command
	Other
)

const (
	Sound    = SoundFile | SoundTTS
	Media    = SoundFile | SoundTTS | Video
	NonMedia = Command | Other
	Any      = Media | NonMedia
)

// Overlaps reports whether a record stored under c answers a query for q.
func (c Category) Overlaps(q Category) bool { return mask.Overlaps(c, q) }

// IsLeaf reports whether c is exactly one leaf category.
func (c Category) IsLeaf() bool { return c != 0 && c&Any == c && c&(c-1) == 0 }

var categoryNames = []struct {
	c    Category
	name string
}{
	{Any, "any"},
	{Media, "media"},
	{NonMedia, "non_media"},
	{Sound, "sound"},
	{SoundFile, "sound_file"},
	{SoundTTS, "sound_tts"},
	{Video, "video"},
	{Command, "command"},
	{Other, "other"},
}

func (c Category) String() string {
	for _, n := range categoryNames {
		if n.c == c {
			return n.name
		}
	}
	leaves := c.Leaves()
	if len(leaves) == 0 {
		return fmt.Sprintf("category(%#x)", uint8(c))
	}
	parts := make([]string, len(leaves))
	for i, l := range leaves {
		parts[i] = l.String()
	}
	return strings.Join(parts, "|")
}

// Leaves returns the leaf categories contained in c, in declaration order.
func (c Category) Leaves() []Category {
	var out []Category
	for _, n := range categoryNames {
		if n.c.IsLeaf() && c&n.c != 0 {
			out = append(out, n.c)
		}
	}
	return out
}

// ParseCategory accepts the names produced by String for leaf and meta categories.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range categoryNames {
		if n.name == s {
			return n.c, nil
		}
	}
	return 0, fmt.Errorf("unknown cooldown category %q", s)
}
