package rtest

import (
	"testing"
	"time"
)

// ScaleDuration is the base timeout for the "soon" helpers.
// CI machines can be slow, so this errs on the generous side.
const ScaleDuration = 250 * time.Millisecond

// ReceiveSoon attempts to receive a value from ch.
// If the receive does not complete within [ScaleDuration], t.Fatal is called.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScaleDuration)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("did not receive value within %s", ScaleDuration)
	}

	panic("unreachable")
}

// SendSoon attempts to send v on ch.
// If the send does not complete within [ScaleDuration], t.Fatal is called.
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScaleDuration)
	defer timer.Stop()

	select {
	case ch <- v:
		return
	case <-timer.C:
		t.Fatalf("did not send value within %s", ScaleDuration)
	}
}

// IsSending asserts that ch is immediately readable,
// which is usually how a closed signal channel is checked.
func IsSending[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	default:
		t.Fatal("channel was not ready to receive")
	}

	panic("unreachable")
}

// NotSending asserts that no value is immediately readable from ch.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected channel to block, but received %v", v)
	default:
		// Okay.
	}
}

// NotSendingSoon asserts that ch stays blocked for a short while.
// Use it where an event would be delivered asynchronously if it were delivered at all.
func NotSendingSoon[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(ScaleDuration / 5)
	defer timer.Stop()

	select {
	case v := <-ch:
		t.Fatalf("expected channel to block, but received %v", v)
	case <-timer.C:
		// Okay.
	}
}
