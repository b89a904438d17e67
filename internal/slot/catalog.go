package slot

import (
	"errors"
	"fmt"
	"strings"
)

// Slot is a bookable time-of-day label. Every clinic shares the same catalog.
type Slot string

var ErrUnknownSlot = errors.New("unknown slot")

// catalog is ordered chronologically. 12:00 to 02:00 PM is the lunch gap.
var catalog = [...]Slot{
	"09:00 AM", "09:30 AM", "10:00 AM", "10:30 AM",
	"11:00 AM", "11:30 AM", "02:00 PM", "02:30 PM",
	"03:00 PM", "03:30 PM", "04:00 PM", "04:30 PM",
	"05:00 PM", "05:30 PM",
}

var index = func() map[Slot]int {
	m := make(map[Slot]int, len(catalog))
	for i, s := range catalog {
		m[s] = i
	}
	return m
}()

// All returns a copy of the catalog in chronological order.
func All() []Slot {
	out := make([]Slot, len(catalog))
	copy(out, catalog[:])
	return out
}

// Len is the number of slots in the catalog.
func Len() int { return len(catalog) }

func Valid(s Slot) bool {
	_, ok := index[s]
	return ok
}

// Index returns the position of s in the catalog, or -1 if s is not a member.
func Index(s Slot) int {
	if i, ok := index[s]; ok {
		return i
	}
	return -1
}

// Less orders slots chronologically.
func Less(a, b Slot) bool {
	return Index(a) < Index(b)
}

// Parse trims the input and checks catalog membership.
func Parse(raw string) (Slot, error) {
	s := Slot(strings.TrimSpace(raw))
	if !Valid(s) {
		return "", fmt.Errorf("%w: %q", ErrUnknownSlot, raw)
	}
	return s, nil
}

func (s Slot) String() string { return string(s) }
