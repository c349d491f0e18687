package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAdvancesCursorWithoutOverlap(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := newFakeSink(true)
	s := NewScheduler(sink, clock, zerolog.Nop())
	defer s.Shutdown()

	base := clock.Now()

	// 1s of audio at 24kHz, then 500ms.
	require.NoError(t, s.Enqueue(make([]float32, 24000), 24000))
	assert.Equal(t, base.Add(time.Second), s.Cursor())

	require.NoError(t, s.Enqueue(make([]float32, 12000), 24000))
	assert.Equal(t, base.Add(1500*time.Millisecond), s.Cursor())
	assert.Equal(t, 2, s.Pending())
}

func TestEnqueueResumesAtNowAfterUnderrun(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := newFakeSink(true)
	s := NewScheduler(sink, clock, zerolog.Nop())
	defer s.Shutdown()

	require.NoError(t, s.Enqueue(make([]float32, 2400), 24000))

	// The consumer fell behind: the clock has run past the cursor.
	clock.Advance(5 * time.Second)
	now := clock.Now()

	require.NoError(t, s.Enqueue(make([]float32, 2400), 24000))
	assert.Equal(t, now.Add(100*time.Millisecond), s.Cursor())
}

func TestFlushClearsUnitsAndResetsCursor(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := newFakeSink(true)
	s := NewScheduler(sink, clock, zerolog.Nop())
	defer s.Shutdown()

	require.NoError(t, s.Enqueue(make([]float32, 24000), 24000))
	require.NoError(t, s.Enqueue(make([]float32, 24000), 24000))
	require.Equal(t, 2, s.Pending())

	clock.Advance(300 * time.Millisecond)
	flushedAt := clock.Now()
	s.Flush()

	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, flushedAt, s.Cursor())
	assert.Equal(t, 1, sink.resetCount())
}

func TestUnitsRemoveThemselvesOnCompletion(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := newFakeSink(false)
	s := NewScheduler(sink, clock, zerolog.Nop())
	defer s.Shutdown()

	require.NoError(t, s.Enqueue(make([]float32, 256), 24000))

	waitFor(t, func() bool { return s.Pending() == 0 })
	assert.NotZero(t, sink.writeCount())
}

func TestShutdownIsIdempotentAndRejectsEnqueue(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := newFakeSink(false)
	s := NewScheduler(sink, clock, zerolog.Nop())

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())
	assert.Equal(t, 1, sink.closeCount())

	err := s.Enqueue(make([]float32, 16), 24000)
	assert.ErrorIs(t, err, ErrShutdown)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSink struct {
	mu      sync.Mutex
	writes  int
	resets  int
	closes  int
	gate    chan struct{}
	blocked bool
}

// newFakeSink returns a sink whose writes block until Reset when blocking is
// true, mimicking a device draining in real time.
func newFakeSink(blocking bool) *fakeSink {
	return &fakeSink{gate: make(chan struct{}), blocked: blocking}
}

func (f *fakeSink) Write(samples []float32) error {
	f.mu.Lock()
	f.writes++
	blocked := f.blocked
	gate := f.gate
	f.mu.Unlock()

	if blocked {
		<-gate
	}
	return nil
}

func (f *fakeSink) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	if f.blocked {
		select {
		case <-f.gate:
		default:
			close(f.gate)
		}
	}
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSink) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeSink) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakeSink) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
