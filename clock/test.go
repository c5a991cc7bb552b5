package clock

import (
	"sync"
	"time"
)

// TestClock is a manually advanced clock for tests.
type TestClock struct {
	lock  sync.Mutex
	micro uint64
}

func NewTestClock(startMicro uint64) *TestClock {
	return &TestClock{micro: startMicro}
}

func (tc *TestClock) CurrentTimeMicro() uint64 {
	tc.lock.Lock()
	defer tc.lock.Unlock()
	return tc.micro
}

func (tc *TestClock) CurrentTimeMs() uint64 {
	return tc.CurrentTimeMicro() / 1000
}

func (tc *TestClock) CurrentTimeSec() uint64 {
	return tc.CurrentTimeMicro() / 1000000
}

func (tc *TestClock) Now() time.Time {
	return time.UnixMicro(int64(tc.CurrentTimeMicro()))
}

// AdvanceMs moves the clock forward.
func (tc *TestClock) AdvanceMs(ms uint64) {
	tc.lock.Lock()
	defer tc.lock.Unlock()
	tc.micro += ms * 1000
}
