package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies "now" for relative timespans. Relative windows such as
// LAST 7 DAYS resolve against Clock.Now when the statement runs, not when
// the huntflow is parsed.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// sequence numbers statements across every Execute call of a session, so
// traces from several calls interleave deterministically.
//
// Thread-safety: safe for concurrent use, although a session executes one
// statement at a time.
type sequence struct {
	seq atomic.Int64
}

// next returns the next sequence number, starting at 1.
func (s *sequence) next() int64 {
	return s.seq.Add(1)
}

// current returns the last number handed out without incrementing.
func (s *sequence) current() int64 {
	return s.seq.Load()
}
