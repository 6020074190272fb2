package playback

import (
	"fmt"
	"time"
)

// FormatTime renders d as MM:SS. Minutes are not rolled into hours, so 75
// minutes renders as "75:00". Fractional seconds are truncated and negative
// durations render as "00:00".
func FormatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// FormatRemaining renders the time left as -MM:SS.
func FormatRemaining(d time.Duration) string {
	return "-" + FormatTime(d)
}

// FormatSpeed renders a speed multiplier with one decimal, e.g. "1.5x".
func FormatSpeed(speed float64) string {
	return fmt.Sprintf("%.1fx", speed)
}

// CurrentTimeString returns the current time as MM:SS.
func (c *Controller) CurrentTimeString() string {
	return FormatTime(c.CurrentTime())
}

// RemainingTimeString returns the time left until the end as -MM:SS.
func (c *Controller) RemainingTimeString() string {
	c.mu.RLock()
	left := c.duration - c.currentTime
	c.mu.RUnlock()
	return FormatRemaining(left)
}

// SpeedString returns the playback speed as e.g. "1.0x".
func (c *Controller) SpeedString() string {
	return FormatSpeed(c.PlaybackSpeed())
}
