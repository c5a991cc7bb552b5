// Time source for everything that records or compares timestamps.
// Components take a Clock instead of calling time.Now so tests can
// drive retry and expiry logic deterministically.
package clock

import "time"

type Clock interface {
	CurrentTimeMicro() uint64
	CurrentTimeMs() uint64
	CurrentTimeSec() uint64
	Now() time.Time
}

func NewSystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) CurrentTimeMicro() uint64 {
	return uint64(time.Now().UnixMicro())
}

func (s systemClock) CurrentTimeMs() uint64 {
	return s.CurrentTimeMicro() / 1000
}

func (s systemClock) CurrentTimeSec() uint64 {
	return s.CurrentTimeMicro() / 1000000
}

func (systemClock) Now() time.Time {
	return time.Now()
}
