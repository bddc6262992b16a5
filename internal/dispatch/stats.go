package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/twinklywall/ledmirror/internal/capture"
	"github.com/twinklywall/ledmirror/internal/logging"
)

// Stats is the getStats result.
type Stats struct {
	Capturing   bool                    `json:"capturing"`
	Method      string                  `json:"method"`
	Screen      capture.Size            `json:"screen"`
	Target      capture.Size            `json:"target"`
	FrameSeq    uint64                  `json:"frameSeq"`
	Capture     capture.MetricsSnapshot `json:"capture"`
	Process     ProcessStats            `json:"process"`
	Health      map[string]any          `json:"health,omitempty"`
	Recent      []logging.Entry         `json:"recentWarnings,omitempty"`
	Extra       map[string]any          `json:"extra,omitempty"`
	CollectedAt time.Time               `json:"collectedAt"`
}

// ProcessStats describes this process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

type statsCollector struct {
	once    sync.Once
	proc    *process.Process
	started time.Time
	extra   map[string]func() any
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		started: time.Now(),
		extra:   make(map[string]func() any),
	}
}

// processStats reads CPU and RSS through gopsutil. Failures leave the fields
// zero; stats are best effort.
func (s *statsCollector) processStats(ctx context.Context) ProcessStats {
	s.once.Do(func() {
		p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
		if err != nil {
			log.Debug("process handle unavailable", logging.KeyError, err)
			return
		}
		s.proc = p
	})

	ps := ProcessStats{
		PID:        os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	}
	if s.proc == nil {
		return ps
	}
	if cpu, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		ps.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		ps.RSSBytes = mem.RSS
	}
	return ps
}

func (d *Dispatcher) getStats(ctx context.Context, _ json.RawMessage) (any, error) {
	st := Stats{
		Capturing:   d.engine.IsCapturing(),
		Method:      d.engine.Method().String(),
		Screen:      d.engine.ScreenSize(),
		Target:      d.engine.TargetSize(),
		FrameSeq:    d.engine.FrameSeq(),
		Capture:     d.engine.Metrics(),
		Process:     d.stats.processStats(ctx),
		Recent:      logging.Recent(),
		CollectedAt: time.Now(),
	}
	if d.health != nil {
		st.Health = d.health.Summary()
	}
	if len(d.stats.extra) > 0 {
		st.Extra = make(map[string]any, len(d.stats.extra))
		for name, fn := range d.stats.extra {
			st.Extra[name] = fn()
		}
	}
	return st, nil
}
