package main

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/twinklywall/ledmirror/internal/capture"
	"github.com/twinklywall/ledmirror/internal/config"
	"github.com/twinklywall/ledmirror/internal/ddp"
	"github.com/twinklywall/ledmirror/internal/health"
)

func TestRedact(t *testing.T) {
	if got := redact(""); got != "" {
		t.Fatalf("empty secret: got %q", got)
	}
	if got := redact("hunter2"); got == "hunter2" || got == "" {
		t.Fatalf("secret not redacted: %q", got)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.FPS = 25
	cfg.AcquireTimeoutMs = 40

	ec := engineConfig(cfg)
	if ec.FrameInterval != 40*time.Millisecond {
		t.Fatalf("FrameInterval = %v, want 40ms", ec.FrameInterval)
	}
	if ec.AcquireTimeout != 40*time.Millisecond {
		t.Fatalf("AcquireTimeout = %v, want 40ms", ec.AcquireTimeout)
	}
	if ec.Platform != nil {
		t.Fatal("expected native platform")
	}
}

type stubAcquirer struct {
	method capture.Method
	value  byte
	lostAt int32
	calls  atomic.Int32
}

func (a *stubAcquirer) AcquireInto(dst []byte) capture.Outcome {
	if n := a.calls.Add(1); a.lostAt > 0 && n >= a.lostAt {
		return capture.OutcomeLost
	}
	for i := range dst {
		dst[i] = a.value
	}
	return capture.OutcomeOK
}

func (a *stubAcquirer) Method() capture.Method { return a.method }
func (a *stubAcquirer) Close() error           { return nil }

func waitForStatus(t *testing.T, mon *health.Monitor, name string, want health.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, ok := mon.Get(name); ok && c.Status == want {
			return
		}
		if time.Now().After(deadline) {
			c, _ := mon.Get(name)
			t.Fatalf("%s check: want %q, got %+v", name, want, c)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCaptureHealthFollowsFallback(t *testing.T) {
	dupBuilds := 0
	engine := capture.NewEngine(capture.Config{
		FrameInterval: 2 * time.Millisecond,
		Platform: &capture.Platform{
			ScreenSize: func() (capture.Size, error) { return capture.Size{Width: 16, Height: 8}, nil },
			Duplication: func(capture.Size) (capture.Acquirer, error) {
				dupBuilds++
				if dupBuilds > 1 {
					return nil, errors.New("duplication unavailable")
				}
				return &stubAcquirer{method: capture.MethodDuplication, value: 1, lostAt: 3}, nil
			},
			Fallback: func(capture.Size) (capture.Acquirer, error) {
				return &stubAcquirer{method: capture.MethodFallback, value: 2}, nil
			},
		},
	})
	t.Cleanup(func() { engine.Close() })

	mon := health.NewMonitor()
	watchCaptureHealth(engine, mon)

	if err := engine.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitForStatus(t, mon, health.Capture, health.Healthy)

	if err := engine.StartCapture(8, 4); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitForStatus(t, mon, health.Capture, health.Degraded)
	if c, _ := mon.Get(health.Capture); c.Message != "GDI BitBlt" {
		t.Fatalf("unexpected capture message %q", c.Message)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitForStatus(t, mon, health.Capture, health.Unhealthy)
}

func TestDDPHealthHooks(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer rx.Close()

	sender, err := ddp.Dial(context.Background(), ddp.Config{
		Host: "127.0.0.1",
		Port: rx.LocalAddr().(*net.UDPAddr).Port,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	mon := health.NewMonitor()
	mon.Update(health.DDP, health.Healthy, sender.Addr())
	pusher := ddp.NewPusher(alwaysNewFrame{}, sender, time.Millisecond)
	watchDDPHealth(pusher, sender.Addr(), mon)

	pusher.OnRecover()
	if c, _ := mon.Get(health.DDP); c.Status != health.Healthy || c.Message != sender.Addr() {
		t.Fatalf("after recover: %+v", c)
	}

	// A closed socket makes every send fail.
	sender.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pusher.Run(ctx)
		close(done)
	}()
	waitForStatus(t, mon, health.DDP, health.Degraded)
	cancel()
	<-done

	pusher.OnRecover()
	if c, _ := mon.Get(health.DDP); c.Status != health.Healthy {
		t.Fatalf("OnRecover did not restore health: %+v", c)
	}
}

// alwaysNewFrame always reports a newer frame.
type alwaysNewFrame struct{}

func (alwaysNewFrame) LatestFrameSince(seq uint64) ([]byte, uint64) {
	return []byte{1, 2, 3}, seq + 1
}
