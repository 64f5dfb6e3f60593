package supervisor

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/betbot/botvisor/internal/domain"
)

func wholeSeconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func hms(sec int64) string {
	return fmt.Sprintf("%dh %dm %ds", sec/3600, (sec%3600)/60, sec%60)
}

// FormatUptime renders d as "Hh Mm Ss", truncating to whole seconds.
func FormatUptime(d time.Duration) string {
	return hms(wholeSeconds(d))
}

// FormatAgo renders an elapsed duration relative to now.
//
//	< 60s    "N seconds ago"
//	< 3600s  "N minutes ago"
//	else     "Hh Mm Ss ago"
func FormatAgo(d time.Duration) string {
	sec := wholeSeconds(d)
	switch {
	case sec < 60:
		return fmt.Sprintf("%d seconds ago", sec)
	case sec < 3600:
		return fmt.Sprintf("%d minutes ago", sec/60)
	default:
		return hms(sec) + " ago"
	}
}

// FormatClock renders t as local time of day.
func FormatClock(t time.Time) string {
	return t.Local().Format(domain.ClockLayout)
}

// MaskSecret replaces every character of s with '*'.
func MaskSecret(s string) string {
	return strings.Repeat("*", utf8.RuneCountInString(s))
}
