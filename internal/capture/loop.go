package capture

import (
	"time"
)

// failureLogInterval throttles per-cycle failure logs.
const failureLogInterval = 2 * time.Second

// run is the capture loop. It owns raw and e.acq until done is closed.
func (e *Engine) run(stop <-chan struct{}, done chan<- struct{}, raw []byte, screen, target Size) {
	defer close(done)

	release := lockCaptureThread()
	defer release()

	interval := e.cfg.FrameInterval
	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	var fails failureLog
	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		e.cycle(raw, screen, target, &fails)
		elapsed := time.Since(start)
		e.metrics.RecordCycle(elapsed, interval)

		if elapsed >= interval {
			continue
		}
		timer.Reset(interval - elapsed)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// cycle runs one acquisition and, when it produced a frame, publishes the
// resized result.
func (e *Engine) cycle(raw []byte, screen, target Size, fails *failureLog) {
	if e.acq == nil {
		e.metrics.RecordOutcome(OutcomeFailed)
		fails.record("no active acquirer")
		return
	}

	outcome := e.acq.AcquireInto(raw)
	e.metrics.RecordOutcome(outcome)

	switch outcome {
	case OutcomeOK:
		fails.reset()
		e.publish(raw, screen, target)
	case OutcomeUnchanged:
		fails.reset()
		// The raw buffer still holds the last frame, so the resized result
		// would be identical to what is already stored.
		if !e.store.Has(target) {
			e.publish(raw, screen, target)
		}
	case OutcomeLost:
		e.recover(screen)
	default:
		fails.record(e.acq.Method().String() + " acquisition failed")
	}
}

func (e *Engine) publish(raw []byte, screen, target Size) {
	start := time.Now()
	err := e.store.Publish(target, func(dst []byte) error {
		return Resize(dst, target.Width, target.Height, raw, screen.Width, screen.Height)
	})
	if err != nil {
		log.Warn("resize failed", "error", err)
		return
	}
	e.metrics.RecordResize(time.Since(start))
}

// recover handles an acquirer whose resources were invalidated (display mode
// change, session lock, GPU reset). The duplication path is rebuilt once; if
// that fails the fallback path is used for the rest of the session and the
// engine never tries to upgrade again.
func (e *Engine) recover(screen Size) {
	lost := e.acq
	wasDuplication := lost.Method() == MethodDuplication
	log.Warn("capture access lost, reinitializing", "method", lost.Method().String())

	if err := lost.Close(); err != nil {
		log.Warn("release after access lost", "error", err)
	}
	e.acq = nil
	e.metrics.RecordReinit()

	if wasDuplication {
		acq, err := build(e.platform.Duplication, screen)
		if err == nil {
			e.setAcquirer(acq)
			log.Info("Desktop Duplication reinitialized")
			return
		}
		log.Warn("Desktop Duplication reinit failed, falling back to GDI", "error", err)
		e.metrics.RecordFallback()
	}

	acq, err := build(e.platform.Fallback, screen)
	if err != nil {
		log.Error("GDI fallback unavailable, capture suspended", "error", err)
		e.setAcquirer(nil)
		return
	}
	e.setAcquirer(acq)
	log.Info("switched to GDI BitBlt capture")
}

// failureLog throttles consecutive-failure warnings: the first failure is
// logged, then at most once per failureLogInterval.
type failureLog struct {
	consecutive int
	last        time.Time
}

func (f *failureLog) record(msg string) {
	f.consecutive++
	now := time.Now()
	if f.consecutive == 1 || now.Sub(f.last) >= failureLogInterval {
		log.Warn(msg, "consecutive", f.consecutive)
		f.last = now
	}
}

func (f *failureLog) reset() {
	f.consecutive = 0
}
