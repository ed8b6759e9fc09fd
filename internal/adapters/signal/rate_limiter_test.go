package signal

import (
	"testing"
	"time"
)

func TestRoomRateLimiterWindow(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("first two attempts should pass")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("third attempt inside the window should be blocked")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("keys are independent")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("window should have slid")
	}
	if _, ok := rl.history["5.6.7.8"]; ok {
		t.Error("stale key was not pruned")
	}
}
