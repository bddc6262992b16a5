package capture

import (
	"errors"
	"time"
)

// Outcome is the result of a single acquisition cycle.
type Outcome int

const (
	// OutcomeOK means dst now holds a fresh frame.
	OutcomeOK Outcome = iota
	// OutcomeUnchanged means no new frame arrived within the wait bound; dst
	// still holds the previous frame.
	OutcomeUnchanged
	// OutcomeFailed means the cycle produced nothing and should be skipped.
	OutcomeFailed
	// OutcomeLost means the acquirer's resources are no longer valid and must
	// be rebuilt before the next cycle.
	OutcomeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeFailed:
		return "failed"
	case OutcomeLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Method identifies which acquisition path is active.
type Method int

const (
	MethodNone Method = iota
	MethodDuplication
	MethodFallback
)

// String returns the capture method name reported to clients.
func (m Method) String() string {
	switch m {
	case MethodDuplication:
		return "Desktop Duplication API"
	case MethodFallback:
		return "GDI BitBlt"
	default:
		return "none"
	}
}

// Acquirer fills a packed RGB buffer with the current full-screen frame.
type Acquirer interface {
	// AcquireInto writes width*height*3 bytes of row-major RGB into dst.
	AcquireInto(dst []byte) Outcome

	// Method reports which path this acquirer implements.
	Method() Method

	// Close releases every OS/GPU resource held by the acquirer.
	Close() error
}

// Factory builds an acquirer for a screen of the given size.
type Factory func(size Size) (Acquirer, error)

// Platform bundles the OS hooks the engine needs.
type Platform struct {
	// ScreenSize reports the primary display size.
	ScreenSize func() (Size, error)

	// Duplication builds the GPU duplication acquirer.
	Duplication Factory

	// Fallback builds the CPU block-copy acquirer.
	Fallback Factory
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bytes returns the length of a packed RGB buffer of this size.
func (s Size) Bytes() int {
	return s.Width * s.Height * 3
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// MaxTargetDimension bounds each side of a requested frame.
const MaxTargetDimension = 8192

// Config holds configuration for the capture engine.
type Config struct {
	// FrameInterval is the cycle budget of the capture loop.
	FrameInterval time.Duration

	// AcquireTimeout bounds the wait for the next duplicated frame.
	AcquireTimeout time.Duration

	// Platform overrides the OS hooks. Nil uses the native platform.
	Platform *Platform
}

// DefaultConfig returns a 20 fps configuration with a 100ms acquire wait.
func DefaultConfig() Config {
	return Config{
		FrameInterval:  50 * time.Millisecond,
		AcquireTimeout: 100 * time.Millisecond,
	}
}

// Capabilities describes what the engine can do, as reported to clients.
type Capabilities struct {
	HardwareAccelerated    bool   `json:"hardwareAccelerated"`
	CaptureMethod          string `json:"captureMethod"`
	SupportsWindowCapture  bool   `json:"supportsWindowCapture"`
	SupportsRegionCapture  bool   `json:"supportsRegionCapture"`
	RequiresPermission     bool   `json:"requiresPermission"`
	SupportsDesktopCapture bool   `json:"supportsDesktopCapture"`
}

// ErrNotSupported is returned when screen capture is not supported on the platform
var ErrNotSupported = errors.New("screen capture not supported on this platform")

// ErrNoAcquirer is returned when neither acquisition path could be set up.
var ErrNoAcquirer = errors.New("no capture method available")

// ErrInvalidTarget is returned for non-positive frame dimensions.
var ErrInvalidTarget = errors.New("invalid target dimensions")

// ErrBufferSize is returned when a pixel buffer is shorter than its dimensions require.
var ErrBufferSize = errors.New("pixel buffer too small")
