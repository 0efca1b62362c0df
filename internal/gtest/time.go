package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// timeFactor multiplies every timeout produced by [ScaleMs].
// Set GDPOS_TEST_TIME_FACTOR to a positive integer on slow or contended machines.
var timeFactor = loadTimeFactor()

func loadTimeFactor() int64 {
	v := os.Getenv("GDPOS_TEST_TIME_FACTOR")
	if v == "" {
		return 1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		panic(fmt.Errorf("GDPOS_TEST_TIME_FACTOR must be a positive integer; got %q", v))
	}
	return n
}

// ScaleMs returns ms milliseconds, scaled by GDPOS_TEST_TIME_FACTOR.
// Test timeouts go through it instead of literal durations.
func ScaleMs(ms int64) time.Duration {
	return time.Duration(timeFactor*ms) * time.Millisecond
}
