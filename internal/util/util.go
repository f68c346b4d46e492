package util

import (
	"time"

	"github.com/valyala/fastrand"
)

// Sleep blocks for t without leaking a timer.
func Sleep(t time.Duration) {
	timer := time.NewTimer(t)
	defer timer.Stop()
	<-timer.C
}

// Jitter returns a random duration in [0, max). Used to spread out
// simultaneous startup races between processes launched together.
func Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(fastrand.Uint32n(uint32(max)))
}
