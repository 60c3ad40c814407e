package tui

import (
	"fmt"
	"strings"
	"time"
)

// Activity lights up when bytes move and fades while the pipe stays full.
type Activity struct {
	dots      int
	lastWrite time.Time
}

const activityDots = 5

func (a *Activity) OnWrite(now time.Time) {
	a.dots = activityDots
	a.lastWrite = now
}

// Decay fades the dots based on time since the last accepted write.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	elapsed := now.Sub(a.lastWrite)
	switch {
	case elapsed > time.Second:
		a.dots = 0
	case elapsed > 800*time.Millisecond:
		a.dots = 1
	case elapsed > 600*time.Millisecond:
		a.dots = 2
	case elapsed > 400*time.Millisecond:
		a.dots = 3
	case elapsed > 200*time.Millisecond:
		a.dots = 4
	}
}

// Stalled reports whether no write landed for the full decay window.
func (a Activity) Stalled() bool { return a.dots == 0 }

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < a.dots {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders d compactly for reports.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
