package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAcquirer fills every frame with a constant byte and returns outcomes
// produced by next.
type fakeAcquirer struct {
	method Method
	value  byte
	next   func(call int) Outcome

	calls  atomic.Int32
	closed atomic.Bool
}

func (f *fakeAcquirer) AcquireInto(dst []byte) Outcome {
	call := int(f.calls.Add(1))
	outcome := OutcomeOK
	if f.next != nil {
		outcome = f.next(call)
	}
	if outcome == OutcomeOK {
		for i := range dst {
			dst[i] = f.value
		}
	}
	return outcome
}

func (f *fakeAcquirer) Method() Method { return f.method }
func (f *fakeAcquirer) Close() error   { f.closed.Store(true); return nil }

// factory hands out acquirers (or errors) in order and counts calls.
type factory struct {
	mu      sync.Mutex
	results []any // *fakeAcquirer or error
	built   []*fakeAcquirer
	calls   int
}

func (f *factory) build(Size) (Acquirer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil, errors.New("no more acquirers")
	}
	r := f.results[0]
	f.results = f.results[1:]
	if err, ok := r.(error); ok {
		return nil, err
	}
	acq := r.(*fakeAcquirer)
	f.built = append(f.built, acq)
	return acq, nil
}

func (f *factory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errSetup = errors.New("setup failed")

func newTestEngine(t *testing.T, screen Size, dup, fb *factory) *Engine {
	t.Helper()
	e := NewEngine(Config{
		FrameInterval:  2 * time.Millisecond,
		AcquireTimeout: time.Millisecond,
		Platform: &Platform{
			ScreenSize:  func() (Size, error) { return screen, nil },
			Duplication: dup.build,
			Fallback:    fb.build,
		},
	})
	t.Cleanup(func() { e.Close() })
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var screen1080p = Size{Width: 1920, Height: 1080}

func TestEngine_InitializePrefersDuplication(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication}}}
	fb := &factory{results: []any{&fakeAcquirer{method: MethodFallback}}}
	e := newTestEngine(t, screen1080p, dup, fb)

	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !e.IsHardwareAccelerated() {
		t.Fatal("expected hardware acceleration")
	}
	if fb.callCount() != 0 {
		t.Fatalf("fallback built %d times, expected 0", fb.callCount())
	}
	caps := e.Capabilities()
	if caps.CaptureMethod != "Desktop Duplication API" || !caps.HardwareAccelerated {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
	if caps.SupportsWindowCapture || caps.SupportsRegionCapture || caps.RequiresPermission || !caps.SupportsDesktopCapture {
		t.Fatalf("unexpected capability flags: %+v", caps)
	}
	if e.ScreenSize() != screen1080p {
		t.Fatalf("expected screen %v, got %v", screen1080p, e.ScreenSize())
	}
}

func TestEngine_InitializeFallsBack(t *testing.T) {
	dup := &factory{results: []any{errSetup}}
	fb := &factory{results: []any{&fakeAcquirer{method: MethodFallback}}}
	e := newTestEngine(t, screen1080p, dup, fb)

	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if e.IsHardwareAccelerated() {
		t.Fatal("expected software capture")
	}
	if got := e.Capabilities().CaptureMethod; got != "GDI BitBlt" {
		t.Fatalf("expected GDI BitBlt, got %q", got)
	}
}

func TestEngine_InitializeBothFail(t *testing.T) {
	dup := &factory{results: []any{errSetup, errSetup}}
	fb := &factory{results: []any{errSetup, &fakeAcquirer{method: MethodFallback}}}
	e := newTestEngine(t, screen1080p, dup, fb)

	err := e.Initialize()
	if !errors.Is(err, ErrNoAcquirer) {
		t.Fatalf("expected ErrNoAcquirer, got %v", err)
	}
	if e.Method() != MethodNone {
		t.Fatalf("expected no method after failure, got %v", e.Method())
	}

	// A failed initialize leaves nothing behind; the next call probes again.
	if err := e.Initialize(); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if dup.callCount() != 2 || fb.callCount() != 2 {
		t.Fatalf("expected 2 probes each, got dup=%d fb=%d", dup.callCount(), fb.callCount())
	}
}

func TestEngine_InitializeIdempotent(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication}, &fakeAcquirer{method: MethodDuplication}}}
	fb := &factory{}
	e := newTestEngine(t, screen1080p, dup, fb)

	for i := 0; i < 3; i++ {
		if err := e.Initialize(); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	if dup.callCount() != 1 {
		t.Fatalf("expected 1 duplication setup, got %d", dup.callCount())
	}
}

func TestEngine_NoPlatform(t *testing.T) {
	e := NewEngine(Config{Platform: &Platform{}})
	if err := e.Initialize(); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if err := e.StartCapture(90, 50); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported from StartCapture, got %v", err)
	}
	if e.IsCapturing() {
		t.Fatal("engine capturing without a platform")
	}
}

func TestEngine_StopBeforeStart(t *testing.T) {
	e := newTestEngine(t, screen1080p, &factory{}, &factory{})
	e.StopCapture()
	e.StopCapture()
	if e.IsCapturing() {
		t.Fatal("expected not capturing")
	}
	if frame := e.LatestFrame(); frame != nil {
		t.Fatalf("expected no frame, got %d bytes", len(frame))
	}
}

func TestEngine_CapturesResizedFrames(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication, value: 42}}}
	e := newTestEngine(t, screen1080p, dup, &factory{})

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if !e.IsCapturing() {
		t.Fatal("expected capturing")
	}
	waitFor(t, "first frame", func() bool { return e.LatestFrame() != nil })

	frame := e.LatestFrame()
	if len(frame) != 90*50*3 {
		t.Fatalf("expected 13500 bytes, got %d", len(frame))
	}
	for i, v := range frame {
		if v != 42 {
			t.Fatalf("byte[%d]: expected 42, got %d", i, v)
		}
	}
	if e.TargetSize() != (Size{Width: 90, Height: 50}) {
		t.Fatalf("unexpected target %v", e.TargetSize())
	}
	if m := e.Metrics(); m.FramesAcquired == 0 || m.FramesPublished == 0 {
		t.Fatalf("metrics not recorded: %+v", m)
	}
}

func TestEngine_DoubleStartKeepsFirstSession(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication}}}
	e := newTestEngine(t, screen1080p, dup, &factory{})

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := e.StartCapture(10, 10); err != nil {
		t.Fatalf("second StartCapture: %v", err)
	}
	if e.TargetSize() != (Size{Width: 90, Height: 50}) {
		t.Fatalf("second start changed target to %v", e.TargetSize())
	}
	waitFor(t, "first frame", func() bool { return e.LatestFrame() != nil })
	if n := len(e.LatestFrame()); n != 13500 {
		t.Fatalf("expected 13500 bytes, got %d", n)
	}
}

func TestEngine_StartRejectsBadTargets(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication}}}
	e := newTestEngine(t, Size{Width: 100, Height: 100}, dup, &factory{})

	for _, tc := range []Size{{0, 50}, {90, -1}, {MaxTargetDimension + 1, 10}, {10, MaxTargetDimension + 1}} {
		if err := e.StartCapture(tc.Width, tc.Height); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("target %v: expected ErrInvalidTarget, got %v", tc, err)
		}
		if e.IsCapturing() {
			t.Fatalf("target %v: engine started", tc)
		}
	}
}

func TestEngine_NoFramesAfterStop(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication, value: 1}}}
	e := newTestEngine(t, screen1080p, dup, &factory{})

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "a few frames", func() bool { return e.FrameSeq() >= 3 })
	e.StopCapture()
	if e.IsCapturing() {
		t.Fatal("still capturing after stop")
	}

	seq := e.FrameSeq()
	time.Sleep(20 * time.Millisecond)
	if got := e.FrameSeq(); got != seq {
		t.Fatalf("store changed after stop: seq %d -> %d", seq, got)
	}
	if e.LatestFrame() == nil {
		t.Fatal("last frame discarded on stop")
	}
}

func TestEngine_RestartAfterStop(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication, value: 3}}}
	e := newTestEngine(t, screen1080p, dup, &factory{})

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "first frame", func() bool { return e.FrameSeq() >= 1 })
	e.StopCapture()
	seq := e.FrameSeq()

	if err := e.StartCapture(30, 20); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, "frame after restart", func() bool { return e.FrameSeq() > seq })
	waitFor(t, "resized frame", func() bool { return len(e.LatestFrame()) == 30*20*3 })
	if dup.callCount() != 1 {
		t.Fatalf("restart rebuilt the acquirer (%d setups)", dup.callCount())
	}
}

func TestEngine_UnchangedFirstFramePublishes(t *testing.T) {
	acq := &fakeAcquirer{
		method: MethodDuplication,
		value:  9,
		next:   func(int) Outcome { return OutcomeUnchanged },
	}
	e := newTestEngine(t, screen1080p, &factory{results: []any{acq}}, &factory{})

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "frame", func() bool { return e.LatestFrame() != nil })

	// Nothing was ever acquired, so the raw buffer is still black.
	for i, v := range e.LatestFrame() {
		if v != 0 {
			t.Fatalf("byte[%d]: expected 0, got %d", i, v)
		}
	}
	// Further unchanged cycles do not republish.
	seq := e.FrameSeq()
	waitFor(t, "more cycles", func() bool { return acq.calls.Load() > 5 })
	if got := e.FrameSeq(); got != seq {
		t.Fatalf("unchanged cycles republished: seq %d -> %d", seq, got)
	}
}

func TestEngine_FailedCyclesSkip(t *testing.T) {
	acq := &fakeAcquirer{
		method: MethodFallback,
		next:   func(int) Outcome { return OutcomeFailed },
	}
	e := newTestEngine(t, screen1080p, &factory{results: []any{errSetup}}, &factory{results: []any{acq}})

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "failed cycles", func() bool { return e.Metrics().FramesFailed >= 3 })
	if !e.IsCapturing() {
		t.Fatal("loop stopped on failed cycles")
	}
	if e.LatestFrame() != nil {
		t.Fatal("failed cycles published a frame")
	}
}

func TestEngine_AccessLostFallsBackToGDI(t *testing.T) {
	lost := &fakeAcquirer{
		method: MethodDuplication,
		value:  1,
		next: func(call int) Outcome {
			if call >= 3 {
				return OutcomeLost
			}
			return OutcomeOK
		},
	}
	gdi := &fakeAcquirer{method: MethodFallback, value: 2}
	dup := &factory{results: []any{lost, errSetup}}
	fb := &factory{results: []any{gdi}}
	e := newTestEngine(t, screen1080p, dup, fb)

	changes := make(chan [2]Method, 4)
	e.OnMethodChange(func(old, new Method) { changes <- [2]Method{old, new} })

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "fallback frame", func() bool {
		f := e.LatestFrame()
		return f != nil && f[0] == 2
	})

	if e.IsHardwareAccelerated() {
		t.Fatal("still reporting hardware acceleration after fallback")
	}
	if !e.IsCapturing() {
		t.Fatal("loop exited during recovery")
	}
	if !lost.closed.Load() {
		t.Fatal("lost acquirer was not released")
	}
	if dup.callCount() != 2 {
		t.Fatalf("expected one duplication retry, got %d setups", dup.callCount())
	}
	if got := e.Capabilities().CaptureMethod; got != "GDI BitBlt" {
		t.Fatalf("expected GDI BitBlt, got %q", got)
	}

	// The first change is the initial selection (none -> duplication).
	var seen [][2]Method
	for len(seen) < 2 {
		select {
		case c := <-changes:
			seen = append(seen, c)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 method changes, got %v", seen)
		}
	}
	if seen[1] != [2]Method{MethodDuplication, MethodFallback} {
		t.Fatalf("unexpected method change %v", seen[1])
	}
	if m := e.Metrics(); m.Fallbacks != 1 || m.Reinits != 1 {
		t.Fatalf("expected 1 fallback and 1 reinit, got %+v", m)
	}
}

func TestEngine_AccessLostReinitializesDuplication(t *testing.T) {
	lost := &fakeAcquirer{
		method: MethodDuplication,
		next: func(call int) Outcome {
			if call == 1 {
				return OutcomeLost
			}
			return OutcomeOK
		},
	}
	fresh := &fakeAcquirer{method: MethodDuplication, value: 5}
	dup := &factory{results: []any{lost, fresh}}
	fb := &factory{}
	e := newTestEngine(t, screen1080p, dup, fb)

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "frame from rebuilt duplication", func() bool {
		f := e.LatestFrame()
		return f != nil && f[0] == 5
	})
	if !e.IsHardwareAccelerated() {
		t.Fatal("expected duplication to stay active")
	}
	if fb.callCount() != 0 {
		t.Fatalf("fallback built %d times", fb.callCount())
	}
}

func TestEngine_CloseReleasesAndAllowsReinit(t *testing.T) {
	first := &fakeAcquirer{method: MethodDuplication}
	second := &fakeAcquirer{method: MethodDuplication}
	dup := &factory{results: []any{first, second}}
	e := newTestEngine(t, screen1080p, dup, &factory{})

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if e.IsCapturing() {
		t.Fatal("capturing after Close")
	}
	if !first.closed.Load() {
		t.Fatal("Close did not release the acquirer")
	}
	if e.Method() != MethodNone {
		t.Fatalf("expected MethodNone after Close, got %v", e.Method())
	}

	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize after Close: %v", err)
	}
	if dup.callCount() != 2 {
		t.Fatalf("expected a fresh probe after Close, got %d setups", dup.callCount())
	}
}

func TestEngine_BothPathsLostReprobesOnRestart(t *testing.T) {
	lost := &fakeAcquirer{
		method: MethodDuplication,
		next:   func(int) Outcome { return OutcomeLost },
	}
	gdi := &fakeAcquirer{method: MethodFallback, value: 3}
	dup := &factory{results: []any{lost, errSetup, errSetup}}
	fb := &factory{results: []any{errSetup, errSetup, gdi}}
	e := newTestEngine(t, screen1080p, dup, fb)

	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "both paths to fail", func() bool { return e.Method() == MethodNone })

	caps := e.Capabilities()
	if caps.HardwareAccelerated || caps.CaptureMethod != "none" {
		t.Fatalf("capabilities claim an active method: %+v", caps)
	}
	if err := e.Initialize(); !errors.Is(err, ErrNoAcquirer) {
		t.Fatalf("Initialize while capturing with no method: expected ErrNoAcquirer, got %v", err)
	}

	e.StopCapture()
	if err := e.StartCapture(90, 50); !errors.Is(err, ErrNoAcquirer) {
		t.Fatalf("restart with both paths failing: expected ErrNoAcquirer, got %v", err)
	}
	if e.IsCapturing() {
		t.Fatal("capturing without an acquirer")
	}
	if e.LatestFrame() != nil {
		t.Fatal("a frame was published without an acquirer")
	}

	// The next attempt finds GDI working again.
	if err := e.StartCapture(90, 50); err != nil {
		t.Fatalf("StartCapture after GDI recovered: %v", err)
	}
	waitFor(t, "GDI frame", func() bool {
		f := e.LatestFrame()
		return f != nil && f[0] == 3
	})
	if got := e.Capabilities().CaptureMethod; got != "GDI BitBlt" {
		t.Fatalf("expected GDI BitBlt, got %q", got)
	}
}

func TestEngine_UpscalesTargetLargerThanScreen(t *testing.T) {
	dup := &factory{results: []any{&fakeAcquirer{method: MethodDuplication, value: 40}}}
	e := newTestEngine(t, Size{Width: 4, Height: 2}, dup, &factory{})

	if err := e.StartCapture(8, 6); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, "upscaled frame", func() bool { return e.LatestFrame() != nil })

	frame := e.LatestFrame()
	if len(frame) != 8*6*3 {
		t.Fatalf("expected %d bytes, got %d", 8*6*3, len(frame))
	}
	for i, v := range frame {
		if v != 40 {
			t.Fatalf("byte %d: expected 40, got %d", i, v)
		}
	}
}
