package gtest

import (
	"time"
)

// TestingFatalHelper is the subset of [testing.TB] used by [ReceiveOrTimeout],
// so that the helper can itself be tested.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

// ReceiveSoon receives a value from ch,
// calling tb.Fatalf if the receive blocks for a short default timeout.
//
// Servers exposing a Wait method are stopped in tests by
// waiting in a goroutine that closes a channel, then calling ReceiveSoon on it.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout receives a value from ch,
// calling tb.Fatalf if nothing arrives within timeout.
// Use [ScaleMs] to produce the timeout.
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout time.Duration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking receive from nil channel %T", ch)
		panic("unreachable")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out after %s receiving from channel %T; raise GDPOS_TEST_TIME_FACTOR (now %d) if this machine is slow",
			timeout, ch, timeFactor,
		)
		// A real tb stops the goroutine in Fatalf.
		panic("unreachable")
	case x := <-ch:
		return x
	}
}
