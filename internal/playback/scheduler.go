package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrShutdown = errors.New("playback scheduler is shut down")

// Clock is a monotonic playback clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock used for real playback.
func SystemClock() Clock { return systemClock{} }

// Sink consumes PCM float32 samples in real time. Write blocks while the
// output device drains; Reset cuts whatever the device is currently playing.
type Sink interface {
	Write(samples []float32) error
	Reset() error
	Close() error
}

// writeChunk bounds how many samples a unit hands the sink per write, so a
// flush can cut in between writes.
const writeChunk = 2048

// Scheduler plays decoded audio chunks back-to-back against a clock cursor.
// Chunks never overlap and are never reordered; if the cursor has fallen
// behind the clock, playback resumes at the current time instead of stacking
// delay.
type Scheduler struct {
	clock Clock
	sink  Sink
	log   zerolog.Logger

	mu       sync.Mutex
	cursor   time.Time
	units    map[uint64]*unit
	nextID   uint64
	shutdown bool

	closeOnce sync.Once
}

type unit struct {
	samples []float32
	start   time.Time

	cancelOnce sync.Once
	cancelled  chan struct{}
}

func (u *unit) cancel() {
	u.cancelOnce.Do(func() { close(u.cancelled) })
}

func NewScheduler(sink Sink, clock Clock, log zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		cursor: clock.Now(),
		units:  make(map[uint64]*unit),
		log:    log,
	}
}

// Enqueue schedules samples to start at the cursor, or immediately if the
// cursor has lagged behind the clock, and advances the cursor past them.
func (s *Scheduler) Enqueue(samples []float32, sampleRate int) error {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	duration := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShutdown
	}

	now := s.clock.Now()
	start := s.cursor
	if start.Before(now) {
		start = now
	}
	s.cursor = start.Add(duration)

	u := &unit{
		samples:   samples,
		start:     start,
		cancelled: make(chan struct{}),
	}
	s.nextID++
	id := s.nextID
	s.units[id] = u
	delay := start.Sub(now)
	s.mu.Unlock()

	go s.play(id, u, delay)
	return nil
}

func (s *Scheduler) play(id uint64, u *unit, delay time.Duration) {
	defer s.remove(id, u)

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-u.cancelled:
			return
		}
	}

	for offset := 0; offset < len(u.samples); offset += writeChunk {
		select {
		case <-u.cancelled:
			return
		default:
		}

		end := offset + writeChunk
		if end > len(u.samples) {
			end = len(u.samples)
		}
		if err := s.sink.Write(u.samples[offset:end]); err != nil {
			select {
			case <-u.cancelled:
				// A flush reset the sink under us; nothing to report.
			default:
				s.log.Warn().Err(err).Msg("playback write failed")
			}
			return
		}
	}
}

// remove drops a unit once it finished or was cancelled. A unit only removes
// itself; flush replaces the whole map, so a stale id is simply absent.
func (s *Scheduler) remove(id uint64, u *unit) {
	s.mu.Lock()
	if current, ok := s.units[id]; ok && current == u {
		delete(s.units, id)
	}
	s.mu.Unlock()
}

// Flush force-stops every scheduled unit, clears the queue and resets the
// cursor to the current clock value.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	cancelled := s.units
	s.units = make(map[uint64]*unit)
	s.cursor = s.clock.Now()
	s.mu.Unlock()

	for _, u := range cancelled {
		u.cancel()
	}
	if len(cancelled) > 0 {
		if err := s.sink.Reset(); err != nil {
			s.log.Warn().Err(err).Msg("playback sink reset failed")
		}
	}
}

// Pending reports how many units are scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// Cursor reports the timestamp at which the next chunk would start.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Shutdown flushes and releases the output sink. Safe to call repeatedly.
func (s *Scheduler) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()

		s.Flush()
		err = s.sink.Close()
	})
	return err
}
