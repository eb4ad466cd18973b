// Package mask holds the bitmask overlap predicate shared by the playback queue
// (resource classes), the cooldown table (throttle categories) and user status
// filters.
package mask

// Bits is any unsigned integer type used as a small closed bitmask vocabulary.
type Bits interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Overlaps reports whether a and b share at least one bit.
func Overlaps[T Bits](a, b T) bool { return a&b != 0 }
