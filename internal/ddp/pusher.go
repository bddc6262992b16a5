package ddp

import (
	"context"
	"time"

	"github.com/twinklywall/ledmirror/internal/logging"
)

// FrameSource is satisfied by *capture.Engine.
type FrameSource interface {
	LatestFrameSince(seq uint64) ([]byte, uint64)
}

// Pusher forwards each new frame from a FrameSource to a Sender.
type Pusher struct {
	src      FrameSource
	sender   *Sender
	interval time.Duration

	// OnError is called for every failed send; nil logs at most once per
	// burst of consecutive failures.
	OnError func(error)
	// OnRecover is called when a send succeeds after one or more failures.
	OnRecover func()
}

func NewPusher(src FrameSource, sender *Sender, interval time.Duration) *Pusher {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Pusher{src: src, sender: sender, interval: interval}
}

// Run polls the source until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var seq uint64
	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, next := p.src.LatestFrameSince(seq)
		if frame == nil {
			continue
		}
		seq = next

		if err := p.sender.Send(frame); err != nil {
			if p.OnError != nil {
				p.OnError(err)
			} else if !failing {
				log.Warn("ddp send failing", "addr", p.sender.Addr(), logging.KeyError, err)
			}
			failing = true
			continue
		}
		if failing {
			failing = false
			if p.OnRecover != nil {
				p.OnRecover()
			} else {
				log.Info("ddp send recovered", "addr", p.sender.Addr())
			}
		}
	}
}
