package utils

import (
	"testing"
	"time"

	"gotest.tools/assert"
)

const kWaitPollGap = 50 * time.Millisecond

// WaitCondition polls cond until it holds or timeout passes. The last check
// is done with log set, so cond can print what it saw before failing.
func WaitCondition(t *testing.T, cond func(log bool) bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond(false) {
			return
		}
		time.Sleep(kWaitPollGap)
	}
	assert.Assert(t, cond(true), "condition not met in %v", timeout)
}
