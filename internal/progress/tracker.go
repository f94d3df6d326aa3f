package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const barWidth = 30

// Tracker renders a single-line progress bar for a probe run. A disabled
// tracker ignores every call, so callers need not check for a terminal.
type Tracker struct {
	w       io.Writer
	label   string
	enabled bool

	mu        sync.Mutex
	done      int64
	total     int64
	resumed   int64
	startTime time.Time
	rendered  bool
}

// New creates a tracker writing to w.
func New(w io.Writer, label string, enabled bool) *Tracker {
	return &Tracker{
		w:         w,
		label:     label,
		enabled:   enabled,
		resumed:   -1,
		startTime: time.Now(),
	}
}

// Update records done of total values probed and redraws the bar. The first
// call fixes the resumed offset so the ETA only reflects this session.
func (t *Tracker) Update(done, total int64) {
	if !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resumed < 0 {
		t.resumed = done
		if done > 0 {
			// The first result of this session is already counted.
			t.resumed = done - 1
		}
	}
	t.done, t.total = done, total
	fmt.Fprint(t.w, "\r\033[K"+t.line(time.Since(t.startTime)))
	t.rendered = true
}

// Finish ends the progress line.
func (t *Tracker) Finish() {
	if !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rendered {
		fmt.Fprintf(t.w, "\r\033[K%s done in %s\n", t.label, formatDuration(time.Since(t.startTime)))
	}
}

// line formats the bar for the current counts after elapsed time.
func (t *Tracker) line(elapsed time.Duration) string {
	percent := 0
	if t.total > 0 {
		percent = int(t.done * 100 / t.total)
	}
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	eta := "calculating..."
	session := t.done - t.resumed
	if t.resumed < 0 {
		session = t.done
	}
	if remaining := t.total - t.done; session > 0 && remaining > 0 {
		eta = formatDuration(elapsed / time.Duration(session) * time.Duration(remaining))
	} else if remaining <= 0 {
		eta = "0s"
	}

	return fmt.Sprintf("%s [%s] %d%% | %d/%d | ETA: %s", t.label, bar, percent, t.done, t.total, eta)
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
