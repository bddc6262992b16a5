package capture

import (
	"sync"
	"time"
)

// Metrics tracks capture loop performance for a session.
type Metrics struct {
	mu sync.RWMutex

	FramesAcquired  uint64
	FramesUnchanged uint64
	FramesFailed    uint64
	FramesPublished uint64
	Fallbacks       uint64
	Reinits         uint64
	OverBudget      uint64

	LastCycleTime  time.Duration
	LastResizeTime time.Duration
	startTime      time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordOutcome(o Outcome) {
	m.mu.Lock()
	switch o {
	case OutcomeOK:
		m.FramesAcquired++
	case OutcomeUnchanged:
		m.FramesUnchanged++
	default:
		m.FramesFailed++
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordResize(d time.Duration) {
	m.mu.Lock()
	m.FramesPublished++
	m.LastResizeTime = d
	m.mu.Unlock()
}

func (m *Metrics) RecordCycle(d, budget time.Duration) {
	m.mu.Lock()
	m.LastCycleTime = d
	if d > budget {
		m.OverBudget++
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordReinit() {
	m.mu.Lock()
	m.Reinits++
	m.mu.Unlock()
}

func (m *Metrics) RecordFallback() {
	m.mu.Lock()
	m.Fallbacks++
	m.mu.Unlock()
}

// reset starts a new session window.
func (m *Metrics) reset() {
	m.mu.Lock()
	m.FramesAcquired = 0
	m.FramesUnchanged = 0
	m.FramesFailed = 0
	m.FramesPublished = 0
	m.OverBudget = 0
	m.LastCycleTime = 0
	m.LastResizeTime = 0
	m.startTime = time.Now()
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of metrics for logging and stats.
type MetricsSnapshot struct {
	FramesAcquired  uint64        `json:"framesAcquired"`
	FramesUnchanged uint64        `json:"framesUnchanged"`
	FramesFailed    uint64        `json:"framesFailed"`
	FramesPublished uint64        `json:"framesPublished"`
	Fallbacks       uint64        `json:"fallbacks"`
	Reinits         uint64        `json:"reinits"`
	OverBudget      uint64        `json:"overBudget"`
	CycleMs         float64       `json:"cycleMs"`
	ResizeMs        float64       `json:"resizeMs"`
	PublishFPS      float64       `json:"publishFps"`
	Uptime          time.Duration `json:"uptime"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	fps := float64(0)
	if uptime.Seconds() > 0 {
		fps = float64(m.FramesPublished) / uptime.Seconds()
	}

	return MetricsSnapshot{
		FramesAcquired:  m.FramesAcquired,
		FramesUnchanged: m.FramesUnchanged,
		FramesFailed:    m.FramesFailed,
		FramesPublished: m.FramesPublished,
		Fallbacks:       m.Fallbacks,
		Reinits:         m.Reinits,
		OverBudget:      m.OverBudget,
		CycleMs:         float64(m.LastCycleTime.Microseconds()) / 1000.0,
		ResizeMs:        float64(m.LastResizeTime.Microseconds()) / 1000.0,
		PublishFPS:      fps,
		Uptime:          uptime,
	}
}
