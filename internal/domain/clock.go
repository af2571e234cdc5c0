package domain

import "time"

// Clock supplies the current time in microseconds since the Unix epoch.
type Clock interface {
	NowMicros() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) NowMicros() uint64 { return f() }
