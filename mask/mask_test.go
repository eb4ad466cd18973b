package mask

import "testing"

type class uint8

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b class
		want bool
	}{
		{0b01, 0b01, true},
		{0b01, 0b10, false},
		{0b11, 0b10, true},
		{0b00, 0b11, false},
		{0b00, 0b00, false},
	}
	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%02b, %02b) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if got := Overlaps(tt.b, tt.a); got != tt.want {
			t.Errorf("Overlaps(%02b, %02b) not symmetric", tt.b, tt.a)
		}
	}
}
