package ipc

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, 1*time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow("conn-a") {
			t.Errorf("call %d should be allowed", i+1)
		}
	}
	if rl.Allow("conn-a") {
		t.Error("4th call should be rejected")
	}
	if !rl.Allow("conn-b") {
		t.Error("different connection should be allowed")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(2, 100*time.Millisecond)

	if !rl.Allow("conn-a") {
		t.Error("first call should be allowed")
	}
	if !rl.Allow("conn-a") {
		t.Error("second call should be allowed")
	}
	if rl.Allow("conn-a") {
		t.Error("third call should be rejected")
	}

	time.Sleep(150 * time.Millisecond)

	if !rl.Allow("conn-a") {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewRateLimiter(1, 1*time.Minute)

	if !rl.Allow("conn-a") {
		t.Error("first should be allowed")
	}
	if rl.Allow("conn-a") {
		t.Error("second should be rejected")
	}

	rl.Forget("conn-a")

	if !rl.Allow("conn-a") {
		t.Error("should be allowed after Forget")
	}
}
