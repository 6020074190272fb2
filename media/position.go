package media

import (
	"fmt"
	"strings"
)

// ChannelPosition identifies the camera a channel was recorded from. The
// numeric value is a stable index usable for array storage.
type ChannelPosition int

// Camera positions in index order.
const (
	Front ChannelPosition = iota
	Rear
	Left
	Right
	Interior
)

// AllPositions lists every position in index order.
var AllPositions = []ChannelPosition{Front, Rear, Left, Right, Interior}

var positionNames = [...]string{"front", "rear", "left", "right", "interior"}

// Index returns the stable storage index of the position.
func (p ChannelPosition) Index() int { return int(p) }

// Valid reports whether p is one of the known positions.
func (p ChannelPosition) Valid() bool {
	return p >= Front && p <= Interior
}

func (p ChannelPosition) String() string {
	if !p.Valid() {
		return fmt.Sprintf("position(%d)", int(p))
	}
	return positionNames[p]
}

// ParsePosition parses a position name case-insensitively.
func ParsePosition(s string) (ChannelPosition, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range positionNames {
		if n == name {
			return ChannelPosition(i), nil
		}
	}
	return 0, fmt.Errorf("media: unknown channel position %q", s)
}

// PlaybackState is the transport state of a controller. The zero value is
// StateStopped.
type PlaybackState int

// Transport states.
const (
	StateStopped PlaybackState = iota
	StatePaused
	StatePlaying
)

func (s PlaybackState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
