// Package dispatch maps named method calls onto the capture engine. It is the
// single request/response surface shared by the IPC and WebSocket transports.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/twinklywall/ledmirror/internal/capture"
	"github.com/twinklywall/ledmirror/internal/health"
	"github.com/twinklywall/ledmirror/internal/logging"
)

var log = logging.L("dispatch")

// ErrNotImplemented is returned for unknown method names.
var ErrNotImplemented = errors.New("method not implemented")

// Method names.
const (
	MethodInitialize          = "initialize"
	MethodStartScreenCapture  = "startScreenCapture"
	MethodStopScreenCapture   = "stopScreenCapture"
	MethodGetLatestFrame      = "getLatestFrame"
	MethodCaptureScreenshot   = "captureScreenshot"
	MethodIsCapturing         = "isCapturing"
	MethodGetScreenDimensions = "getScreenDimensions"
	MethodGetCapabilities     = "getCapabilities"
	MethodGetAvailableWindows = "getAvailableWindows"
	MethodGetStats            = "getStats"
)

// Default target size when startScreenCapture omits dimensions.
const (
	DefaultTargetWidth  = 90
	DefaultTargetHeight = 50
)

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher executes method calls against one engine.
type Dispatcher struct {
	engine  *capture.Engine
	target  capture.Size
	windows func() ([]string, error)
	health  *health.Monitor
	stats   *statsCollector
	methods map[string]handlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaultTarget overrides the 90x50 default of startScreenCapture.
func WithDefaultTarget(width, height int) Option {
	return func(d *Dispatcher) {
		d.target = capture.Size{Width: width, Height: height}
	}
}

// WithWindowLister replaces capture.AvailableWindows.
func WithWindowLister(fn func() ([]string, error)) Option {
	return func(d *Dispatcher) { d.windows = fn }
}

// WithHealth includes the monitor's summary in getStats.
func WithHealth(m *health.Monitor) Option {
	return func(d *Dispatcher) { d.health = m }
}

// WithStats adds a named section to getStats.
func WithStats(name string, fn func() any) Option {
	return func(d *Dispatcher) { d.stats.extra[name] = fn }
}

func New(engine *capture.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:  engine,
		target:  capture.Size{Width: DefaultTargetWidth, Height: DefaultTargetHeight},
		windows: capture.AvailableWindows,
		stats:   newStatsCollector(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.methods = map[string]handlerFunc{
		MethodInitialize:          d.initialize,
		MethodStartScreenCapture:  d.startScreenCapture,
		MethodStopScreenCapture:   d.stopScreenCapture,
		MethodGetLatestFrame:      d.latestFrame,
		MethodCaptureScreenshot:   d.latestFrame,
		MethodIsCapturing:         d.isCapturing,
		MethodGetScreenDimensions: d.screenDimensions,
		MethodGetCapabilities:     d.capabilities,
		MethodGetAvailableWindows: d.availableWindows,
		MethodGetStats:            d.getStats,
	}
	return d
}

// Handle runs method with its JSON params. It satisfies ipc.Handler.
func (d *Dispatcher) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	fn, ok := d.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, method)
	}
	return fn(ctx, params)
}

// Methods lists the supported method names, sorted.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine failures are reported as false, not as call errors.
func (d *Dispatcher) initialize(context.Context, json.RawMessage) (any, error) {
	if err := d.engine.Initialize(); err != nil {
		log.Warn("initialize failed", logging.KeyError, err)
		return false, nil
	}
	return true, nil
}

func (d *Dispatcher) startScreenCapture(_ context.Context, params json.RawMessage) (any, error) {
	width, height := d.target.Width, d.target.Height
	args := decodeArgs(params)
	if v, ok := intArg(args, "width"); ok {
		width = v
	}
	if v, ok := intArg(args, "height"); ok {
		height = v
	}

	if err := d.engine.StartCapture(width, height); err != nil {
		log.Warn("startScreenCapture failed", "width", width, "height", height, logging.KeyError, err)
		return false, nil
	}
	return true, nil
}

func (d *Dispatcher) stopScreenCapture(context.Context, json.RawMessage) (any, error) {
	d.engine.StopCapture()
	return true, nil
}

// latestFrame returns an empty frame, never nil, when nothing is available.
func (d *Dispatcher) latestFrame(context.Context, json.RawMessage) (any, error) {
	if !d.engine.IsCapturing() {
		return []byte{}, nil
	}
	frame := d.engine.LatestFrame()
	if frame == nil {
		return []byte{}, nil
	}
	return frame, nil
}

func (d *Dispatcher) isCapturing(context.Context, json.RawMessage) (any, error) {
	return d.engine.IsCapturing(), nil
}

func (d *Dispatcher) screenDimensions(context.Context, json.RawMessage) (any, error) {
	return d.engine.ScreenSize(), nil
}

func (d *Dispatcher) capabilities(context.Context, json.RawMessage) (any, error) {
	return d.engine.Capabilities(), nil
}

func (d *Dispatcher) availableWindows(context.Context, json.RawMessage) (any, error) {
	titles, err := d.windows()
	if errors.Is(err, capture.ErrNotSupported) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enumerate windows: %w", err)
	}
	if titles == nil {
		titles = []string{}
	}
	return titles, nil
}

// decodeArgs parses an object of named arguments. Anything else yields no
// arguments, so every parameter takes its default.
func decodeArgs(params json.RawMessage) map[string]json.RawMessage {
	if len(params) == 0 {
		return nil
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil
	}
	return args
}

// intArg reports the named argument if it is present and an integer.
func intArg(args map[string]json.RawMessage, name string) (int, bool) {
	raw, ok := args[name]
	if !ok {
		return 0, false
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
