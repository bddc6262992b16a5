package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/twinklywall/ledmirror/internal/logging"
)

var log = logging.L("capture")

// Engine owns acquirer selection, the capture loop lifecycle and the frame
// store. It is the only type callers outside this package talk to.
type Engine struct {
	cfg      Config
	platform Platform

	// mu serializes Initialize/StartCapture/StopCapture/Close.
	mu          sync.Mutex
	initialized bool
	acq         Acquirer // owned by the loop goroutine while capturing
	raw         []byte   // full-resolution RGB, written only by the loop
	stopCh      chan struct{}
	done        chan struct{}

	screen    atomic.Value // Size
	target    atomic.Value // Size
	method    atomic.Int32
	capturing atomic.Bool

	store   *FrameStore
	metrics *Metrics

	hookMu       sync.RWMutex
	methodChange func(old, new Method)
}

// NewEngine creates an idle, uninitialized engine.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}

	e := &Engine{
		cfg:     cfg,
		store:   NewFrameStore(),
		metrics: newMetrics(),
	}
	if cfg.Platform != nil {
		e.platform = *cfg.Platform
	} else {
		e.platform = nativePlatform(cfg)
	}
	e.screen.Store(Size{})
	e.target.Store(Size{})
	return e
}

// OnMethodChange registers fn to be called whenever the active acquisition
// method changes, including the drop to the fallback path at runtime.
func (e *Engine) OnMethodChange(fn func(old, new Method)) {
	e.hookMu.Lock()
	e.methodChange = fn
	e.hookMu.Unlock()
}

// Initialize sets up the duplication path, or the fallback path if that
// fails. Calling it again on an initialized engine is a no-op unless both
// paths were lost at runtime, in which case it probes again.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initLocked()
}

func (e *Engine) initLocked() error {
	if e.initialized {
		if e.Method() != MethodNone {
			return nil
		}
		// Both paths failed at runtime. The loop owns e.acq while it runs.
		if e.capturing.Load() {
			return ErrNoAcquirer
		}
		e.initialized = false
		log.Info("no active capture method, probing again")
	}
	if e.platform.ScreenSize == nil {
		return ErrNotSupported
	}

	size, err := e.platform.ScreenSize()
	if err != nil {
		return fmt.Errorf("capture: screen size: %w", err)
	}
	if !size.Valid() {
		return fmt.Errorf("capture: screen size %dx%d: %w", size.Width, size.Height, ErrInvalidTarget)
	}

	acq, dupErr := build(e.platform.Duplication, size)
	if dupErr == nil {
		log.Info("using Desktop Duplication API", "width", size.Width, "height", size.Height)
	} else {
		log.Warn("Desktop Duplication unavailable, falling back to GDI", "error", dupErr)
		var fbErr error
		acq, fbErr = build(e.platform.Fallback, size)
		if fbErr != nil {
			log.Error("failed to initialize any capture method", "duplication", dupErr, "fallback", fbErr)
			return fmt.Errorf("%w: duplication: %v; fallback: %v", ErrNoAcquirer, dupErr, fbErr)
		}
		log.Info("using GDI BitBlt", "width", size.Width, "height", size.Height)
	}

	e.screen.Store(size)
	e.raw = make([]byte, size.Bytes())
	e.setAcquirer(acq)
	e.initialized = true
	return nil
}

func build(f Factory, size Size) (Acquirer, error) {
	if f == nil {
		return nil, ErrNotSupported
	}
	acq, err := f(size)
	if err != nil {
		return nil, err
	}
	if acq == nil {
		return nil, ErrNotSupported
	}
	return acq, nil
}

// StartCapture starts the capture loop producing targetWidth x targetHeight
// frames. Targets larger than the screen are upscaled. It returns nil immediately if the loop is already running, and
// initializes the engine first if needed.
func (e *Engine) StartCapture(targetWidth, targetHeight int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.capturing.Load() {
		return nil
	}

	target := Size{Width: targetWidth, Height: targetHeight}
	if !target.Valid() || targetWidth > MaxTargetDimension || targetHeight > MaxTargetDimension {
		return fmt.Errorf("capture: target %dx%d: %w", targetWidth, targetHeight, ErrInvalidTarget)
	}
	if err := e.initLocked(); err != nil {
		return err
	}
	screen := e.ScreenSize()
	if len(e.raw) != screen.Bytes() {
		e.raw = make([]byte, screen.Bytes())
	}

	e.target.Store(target)
	e.metrics.reset()
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.capturing.Store(true)

	go e.run(e.stopCh, e.done, e.raw, screen, target)

	log.Info("capture started",
		"method", e.Method().String(),
		"target", fmt.Sprintf("%dx%d", targetWidth, targetHeight),
		"interval", e.cfg.FrameInterval)
	return nil
}

// StopCapture signals the loop to stop and waits until it has exited.
// It is a no-op when the engine is not capturing.
func (e *Engine) StopCapture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if !e.capturing.Load() {
		return
	}
	close(e.stopCh)
	<-e.done
	e.capturing.Store(false)

	snap := e.metrics.Snapshot()
	log.Info("capture stopped",
		"acquired", snap.FramesAcquired,
		"unchanged", snap.FramesUnchanged,
		"failed", snap.FramesFailed,
		"published", snap.FramesPublished)
}

// Close stops capturing and releases the active acquirer. The engine returns
// to the uninitialized state and may be initialized again.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	var err error
	if e.acq != nil {
		err = e.acq.Close()
	}
	e.setAcquirer(nil)
	e.initialized = false
	return err
}

// LatestFrame returns a copy of the most recent resized frame, or nil if no
// frame has been published yet.
func (e *Engine) LatestFrame() []byte {
	return e.store.Snapshot()
}

// LatestFrameSince returns the latest frame and its sequence number if it is
// newer than seq.
func (e *Engine) LatestFrameSince(seq uint64) ([]byte, uint64) {
	return e.store.SnapshotSince(seq)
}

// FrameSeq returns the sequence number of the latest published frame.
func (e *Engine) FrameSeq() uint64 {
	return e.store.Seq()
}

// IsCapturing reports whether the capture loop is running.
func (e *Engine) IsCapturing() bool {
	return e.capturing.Load()
}

// Method returns the active acquisition method.
func (e *Engine) Method() Method {
	return Method(e.method.Load())
}

// IsHardwareAccelerated reports whether the duplication path is active.
func (e *Engine) IsHardwareAccelerated() bool {
	return e.Method() == MethodDuplication
}

// ScreenSize returns the display size captured at initialization.
func (e *Engine) ScreenSize() Size {
	return e.screen.Load().(Size)
}

// TargetSize returns the frame size requested by the last StartCapture.
func (e *Engine) TargetSize() Size {
	return e.target.Load().(Size)
}

// Capabilities reports what this engine supports.
func (e *Engine) Capabilities() Capabilities {
	m := e.Method()
	return Capabilities{
		HardwareAccelerated:    m == MethodDuplication,
		CaptureMethod:          m.String(),
		SupportsWindowCapture:  false,
		SupportsRegionCapture:  false,
		RequiresPermission:     false,
		SupportsDesktopCapture: true,
	}
}

// Metrics returns a snapshot of the current session's loop counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

func (e *Engine) setAcquirer(acq Acquirer) {
	e.acq = acq
	m := MethodNone
	if acq != nil {
		m = acq.Method()
	}
	old := Method(e.method.Swap(int32(m)))
	if old == m {
		return
	}

	e.hookMu.RLock()
	fn := e.methodChange
	e.hookMu.RUnlock()
	if fn != nil {
		fn(old, m)
	}
}
