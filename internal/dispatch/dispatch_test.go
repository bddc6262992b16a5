package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/twinklywall/ledmirror/internal/capture"
	"github.com/twinklywall/ledmirror/internal/health"
)

type solidAcquirer struct {
	method capture.Method
}

func (a *solidAcquirer) AcquireInto(dst []byte) capture.Outcome {
	for i := range dst {
		dst[i] = 0x80
	}
	return capture.OutcomeOK
}
func (a *solidAcquirer) Method() capture.Method { return a.method }
func (a *solidAcquirer) Close() error           { return nil }

var testScreen = capture.Size{Width: 320, Height: 200}

func newTestEngine(t *testing.T, dupOK bool) *capture.Engine {
	t.Helper()
	e := capture.NewEngine(capture.Config{
		FrameInterval: 2 * time.Millisecond,
		Platform: &capture.Platform{
			ScreenSize: func() (capture.Size, error) { return testScreen, nil },
			Duplication: func(capture.Size) (capture.Acquirer, error) {
				if !dupOK {
					return nil, errors.New("no duplication")
				}
				return &solidAcquirer{method: capture.MethodDuplication}, nil
			},
			Fallback: func(capture.Size) (capture.Acquirer, error) {
				return &solidAcquirer{method: capture.MethodFallback}, nil
			},
		},
	})
	t.Cleanup(func() { e.Close() })
	return e
}

func call(t *testing.T, d *Dispatcher, method string, params string) any {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	result, err := d.Handle(context.Background(), method, raw)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return result
}

func TestUnknownMethod(t *testing.T) {
	d := New(newTestEngine(t, true))
	_, err := d.Handle(context.Background(), "resizeWindow", nil)
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestInitializeAndCapabilities(t *testing.T) {
	d := New(newTestEngine(t, false))

	if got := call(t, d, MethodInitialize, ""); got != true {
		t.Fatalf("initialize = %v, want true", got)
	}
	caps := call(t, d, MethodGetCapabilities, "").(capture.Capabilities)
	if caps.HardwareAccelerated || caps.CaptureMethod != "GDI BitBlt" {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
	dims := call(t, d, MethodGetScreenDimensions, "").(capture.Size)
	if dims != testScreen {
		t.Fatalf("getScreenDimensions = %v, want %v", dims, testScreen)
	}
}

func TestInitializeFailureIsFalse(t *testing.T) {
	e := capture.NewEngine(capture.Config{Platform: &capture.Platform{}})
	d := New(e)
	if got := call(t, d, MethodInitialize, ""); got != false {
		t.Fatalf("initialize = %v, want false", got)
	}
	if got := call(t, d, MethodStartScreenCapture, ""); got != false {
		t.Fatalf("startScreenCapture = %v, want false", got)
	}
}

func TestFrameLifecycle(t *testing.T) {
	d := New(newTestEngine(t, true))

	frame := call(t, d, MethodGetLatestFrame, "").([]byte)
	if frame == nil || len(frame) != 0 {
		t.Fatalf("expected empty non-nil frame before start, got %v", frame)
	}

	if got := call(t, d, MethodStartScreenCapture, ""); got != true {
		t.Fatalf("startScreenCapture = %v", got)
	}
	if got := call(t, d, MethodIsCapturing, ""); got != true {
		t.Fatalf("isCapturing = %v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		frame = call(t, d, MethodCaptureScreenshot, "").([]byte)
		if len(frame) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a frame")
		}
		time.Sleep(time.Millisecond)
	}
	if len(frame) != DefaultTargetWidth*DefaultTargetHeight*3 {
		t.Fatalf("expected default 90x50 frame, got %d bytes", len(frame))
	}
	if frame[0] != 0x80 {
		t.Fatalf("unexpected pixel value %d", frame[0])
	}

	if got := call(t, d, MethodStopScreenCapture, ""); got != true {
		t.Fatalf("stopScreenCapture = %v", got)
	}
	if got := call(t, d, MethodGetLatestFrame, "").([]byte); len(got) != 0 {
		t.Fatalf("expected empty frame after stop, got %d bytes", len(got))
	}
}

func TestStartScreenCaptureArgs(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   capture.Size
	}{
		{"explicit", `{"width":32,"height":18}`, capture.Size{Width: 32, Height: 18}},
		{"width only", `{"width":40}`, capture.Size{Width: 40, Height: 50}},
		{"non-integer ignored", `{"width":"wide","height":12.5}`, capture.Size{Width: 90, Height: 50}},
		{"not an object", `[1,2]`, capture.Size{Width: 90, Height: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, true)
			d := New(e)
			if got := call(t, d, MethodStartScreenCapture, tt.params); got != true {
				t.Fatalf("startScreenCapture = %v", got)
			}
			if e.TargetSize() != tt.want {
				t.Fatalf("target = %v, want %v", e.TargetSize(), tt.want)
			}
		})
	}
}

func TestStartScreenCaptureRejectsBadSize(t *testing.T) {
	d := New(newTestEngine(t, true))
	if got := call(t, d, MethodStartScreenCapture, `{"width":0,"height":10}`); got != false {
		t.Fatalf("startScreenCapture = %v, want false", got)
	}
}

func TestDefaultTargetOption(t *testing.T) {
	e := newTestEngine(t, true)
	d := New(e, WithDefaultTarget(16, 9))
	call(t, d, MethodStartScreenCapture, "")
	if e.TargetSize() != (capture.Size{Width: 16, Height: 9}) {
		t.Fatalf("target = %v", e.TargetSize())
	}
}

func TestAvailableWindows(t *testing.T) {
	d := New(newTestEngine(t, true), WithWindowLister(func() ([]string, error) {
		return []string{"Terminal", "Café ☕"}, nil
	}))
	titles := call(t, d, MethodGetAvailableWindows, "").([]string)
	if len(titles) != 2 || titles[1] != "Café ☕" {
		t.Fatalf("unexpected titles: %v", titles)
	}

	d = New(newTestEngine(t, true), WithWindowLister(func() ([]string, error) {
		return nil, capture.ErrNotSupported
	}))
	titles = call(t, d, MethodGetAvailableWindows, "").([]string)
	if titles == nil || len(titles) != 0 {
		t.Fatalf("expected empty list when unsupported, got %v", titles)
	}
}

func TestGetStats(t *testing.T) {
	mon := health.NewMonitor()
	mon.Update(health.Capture, health.Healthy, "")
	d := New(newTestEngine(t, true),
		WithHealth(mon),
		WithStats("ddp", func() any { return map[string]int{"frames": 7} }),
	)
	call(t, d, MethodStartScreenCapture, "")

	st := call(t, d, MethodGetStats, "").(Stats)
	if !st.Capturing || st.Method != "Desktop Duplication API" {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Screen != testScreen || st.Target != (capture.Size{Width: 90, Height: 50}) {
		t.Fatalf("unexpected sizes: %+v", st)
	}
	if st.Process.PID == 0 || st.Process.Goroutines == 0 {
		t.Fatalf("process stats missing: %+v", st.Process)
	}
	if st.Health["status"] != "healthy" {
		t.Fatalf("health missing: %v", st.Health)
	}
	if st.Extra["ddp"] == nil {
		t.Fatalf("extra stats missing: %v", st.Extra)
	}
	if _, err := json.Marshal(st); err != nil {
		t.Fatalf("stats not serializable: %v", err)
	}
}

func TestMethodsSorted(t *testing.T) {
	names := New(newTestEngine(t, true)).Methods()
	if len(names) != 10 {
		t.Fatalf("expected 10 methods, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("methods not sorted: %v", names)
		}
	}
}
