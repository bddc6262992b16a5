package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/twinklywall/ledmirror/internal/capture"
	"github.com/twinklywall/ledmirror/internal/config"
	"github.com/twinklywall/ledmirror/internal/ddp"
	"github.com/twinklywall/ledmirror/internal/dispatch"
	"github.com/twinklywall/ledmirror/internal/health"
	"github.com/twinklywall/ledmirror/internal/ipc"
	"github.com/twinklywall/ledmirror/internal/logging"
	"github.com/twinklywall/ledmirror/internal/secmem"
	"github.com/twinklywall/ledmirror/internal/websocket"
)

var log = logging.L("main")

func initLogging(cfg *config.Config) io.Closer {
	var output io.Writer = os.Stderr
	var closer io.Closer
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stderr: %v\n", err)
		} else {
			output = io.MultiWriter(os.Stderr, rw)
			closer = rw
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	return closer
}

func engineConfig(cfg *config.Config) capture.Config {
	ec := capture.DefaultConfig()
	ec.FrameInterval = cfg.FrameInterval()
	ec.AcquireTimeout = cfg.AcquireTimeout()
	return ec
}

// watchCaptureHealth maps the active capture method onto a health status.
func watchCaptureHealth(engine *capture.Engine, mon *health.Monitor) {
	engine.OnMethodChange(func(old, cur capture.Method) {
		switch cur {
		case capture.MethodDuplication:
			mon.Update(health.Capture, health.Healthy, cur.String())
		case capture.MethodFallback:
			mon.Update(health.Capture, health.Degraded, cur.String())
		default:
			mon.Update(health.Capture, health.Unhealthy, "no capture method available")
		}
		if old != capture.MethodNone && old != cur {
			log.Warn("capture method changed", "from", old.String(), "to", cur.String())
		}
	})
}

// watchDDPHealth reports send failures as Degraded and recovery as Healthy.
func watchDDPHealth(p *ddp.Pusher, addr string, mon *health.Monitor) {
	p.OnError = func(err error) {
		if c, ok := mon.Get(health.DDP); !ok || c.Status != health.Degraded {
			log.Warn("ddp send failing", "addr", addr, logging.KeyError, err)
		}
		mon.Update(health.DDP, health.Degraded, err.Error())
	}
	p.OnRecover = func() {
		mon.Update(health.DDP, health.Healthy, addr)
	}
}

func runMirror() {
	cfg := loadConfig()
	if closer := initLogging(cfg); closer != nil {
		defer closer.Close()
	}

	log.Info("starting ledmirror", "version", version,
		"target", fmt.Sprintf("%dx%d", cfg.TargetWidth, cfg.TargetHeight), "fps", cfg.FPS)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mon := health.NewMonitor()
	mon.Update(health.Capture, health.Unknown, "not initialized")

	engine := capture.NewEngine(engineConfig(cfg))
	defer engine.Close()
	watchCaptureHealth(engine, mon)

	opts := []dispatch.Option{
		dispatch.WithDefaultTarget(cfg.TargetWidth, cfg.TargetHeight),
		dispatch.WithHealth(mon),
	}

	var sender *ddp.Sender
	if cfg.DDPEnabled {
		s, err := ddp.Dial(ctx, ddp.Config{
			Host:       cfg.DDPHost,
			Port:       cfg.DDPPort,
			MaxPayload: cfg.DDPMaxPayload,
			DSCP:       cfg.DDPDSCP,
		})
		if err != nil {
			log.Error("ddp output unavailable", logging.KeyError, err)
			mon.Update(health.DDP, health.Unhealthy, err.Error())
		} else {
			sender = s
			defer sender.Close()
			mon.Update(health.DDP, health.Healthy, sender.Addr())
			opts = append(opts, dispatch.WithStats("ddp", func() any { return sender.Stats() }))
		}
	}

	dispatcher := dispatch.New(engine, opts...)

	var wg sync.WaitGroup
	runTask := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("service stopped", logging.KeyComponent, name, logging.KeyError, err)
				mon.Update(name, health.Unhealthy, err.Error())
			}
		}()
	}

	if cfg.IPCEnabled {
		ln, err := ipc.Listen(cfg.IPCPath)
		if err != nil {
			log.Error("ipc listener unavailable", "path", cfg.IPCPath, logging.KeyError, err)
			mon.Update(health.IPC, health.Unhealthy, err.Error())
		} else {
			key := secmem.NewKey(ipc.KeyFromSecret(cfg.IPCSecret))
			cfg.IPCSecret = ""
			defer key.Zero()
			srv := ipc.NewServer(dispatcher, key.Bytes(), cfg.IPCCallsPerMinute)
			mon.Update(health.IPC, health.Healthy, cfg.IPCPath)
			runTask(health.IPC, func(ctx context.Context) error { return srv.Serve(ctx, ln) })
		}
	}

	if cfg.WebSocketAddr != "" {
		ws := websocket.New(websocket.Config{
			Addr:           cfg.WebSocketAddr,
			AllowedOrigins: cfg.WebSocketAllowedOrigins,
			FrameInterval:  cfg.FrameInterval(),
		}, dispatcher, engine)
		mon.Update(health.WebSocket, health.Healthy, cfg.WebSocketAddr)
		runTask(health.WebSocket, ws.ListenAndServe)
	}

	if sender != nil {
		pusher := ddp.NewPusher(engine, sender, cfg.FrameInterval())
		watchDDPHealth(pusher, sender.Addr(), mon)
		runTask(health.DDP, func(ctx context.Context) error {
			pusher.Run(ctx)
			return nil
		})
	}

	if cfg.AutoStart {
		if err := engine.Initialize(); err != nil {
			log.Error("capture initialization failed", logging.KeyError, err)
		} else if err := engine.StartCapture(cfg.TargetWidth, cfg.TargetHeight); err != nil {
			log.Error("failed to start capture", logging.KeyError, err)
		} else {
			log.Info("capture started", logging.KeyMethod, engine.Method().String())
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	engine.StopCapture()
	wg.Wait()
	log.Info("shutdown complete", "health", string(mon.Overall()))
}
