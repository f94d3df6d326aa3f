package progress

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerLine(t *testing.T) {
	tr := New(&bytes.Buffer{}, "idor", true)
	tr.resumed = 0
	tr.done, tr.total = 25, 100

	line := tr.line(10 * time.Second)
	assert.Contains(t, line, "idor [")
	assert.Contains(t, line, "25% | 25/100")
	assert.Contains(t, line, "ETA: 30s")
}

func TestTrackerResumedETA(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, "idor", true)

	// Resumed with 50 values already probed; this session adds the 51st.
	tr.Update(51, 100)
	assert.Equal(t, int64(50), tr.resumed)
	assert.Contains(t, buf.String(), "51/100")

	tr.done = 60
	assert.Contains(t, tr.line(10*time.Second), "ETA: 40s")
}

func TestTrackerDisabled(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, "idor", false)
	tr.Update(1, 10)
	tr.Finish()
	assert.Empty(t, buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "< 1s", formatDuration(500*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 30m", formatDuration(90*time.Minute))
}
