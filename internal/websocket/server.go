package websocket

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/twinklywall/ledmirror/internal/capture"
	"github.com/twinklywall/ledmirror/internal/logging"
)

var log = logging.L("websocket")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

// Command is a method call received on /ws.
type Command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandResult answers one Command.
type CommandResult struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
	Status    string `json:"status"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Handler executes one named method call.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// FrameSource provides resized frames for the /frames stream.
type FrameSource interface {
	LatestFrameSince(seq uint64) ([]byte, uint64)
	TargetSize() capture.Size
}

// Config holds WebSocket server configuration.
type Config struct {
	Addr string
	// AllowedOrigins lists accepted Origin headers. Empty means same-origin
	// only (requests without an Origin header are always accepted).
	AllowedOrigins []string
	// FrameInterval is how often /frames polls for a new frame.
	FrameInterval time.Duration
}

// Server exposes the method dispatcher on /ws and a live frame stream on
// /frames.
type Server struct {
	cfg      Config
	handler  Handler
	frames   FrameSource
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func New(cfg Config, handler Handler, frames FrameSource) *Server {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 50 * time.Millisecond
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		frames:  frames,
		peers:   make(map[*peer]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16 * 1024,
	}
	if len(cfg.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = s.checkOrigin
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler serving /ws and /frames.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveCommands)
	mux.HandleFunc("/frames", s.serveFrames)
	return mux
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("websocket server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.closePeers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Peers returns the number of open connections.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) closePeers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		p.stop()
	}
}

func (s *Server) register(p *peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*peer, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", "remote", r.RemoteAddr, logging.KeyError, err)
		return nil, false
	}
	p := newPeer(conn)
	s.register(p)
	p.log.Info("client connected", "path", r.URL.Path, "remote", r.RemoteAddr)
	return p, true
}

func (s *Server) serveCommands(w http.ResponseWriter, r *http.Request) {
	p, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer s.unregister(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.writePump(nil, 0)
	p.readPump(func(message []byte) {
		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			p.log.Warn("failed to parse command", logging.KeyError, err)
			return
		}
		if cmd.ID == "" {
			return
		}
		go s.processCommand(ctx, p, cmd)
	})
	p.stop()
	p.log.Info("client disconnected")
}

func (s *Server) processCommand(ctx context.Context, p *peer, cmd Command) {
	clog := logging.WithCall(p.log, cmd.ID, cmd.Type)
	start := time.Now()

	result := CommandResult{Type: "command_result", CommandID: cmd.ID, Status: StatusCompleted}
	out, err := s.handler.Handle(ctx, cmd.Type, cmd.Payload)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
	} else {
		result.Result = out
	}
	clog.Debug("command processed", "status", result.Status, logging.KeyDurationMs, time.Since(start).Milliseconds())

	data, err := json.Marshal(result)
	if err != nil {
		clog.Error("failed to marshal result", logging.KeyError, err)
		return
	}
	if err := p.enqueue(data); err != nil {
		clog.Warn("failed to send command result", logging.KeyError, err)
	}
}

func (s *Server) serveFrames(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		http.Error(w, "frame stream unavailable", http.StatusServiceUnavailable)
		return
	}
	p, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer s.unregister(p)

	go p.writePump(s.frames, s.cfg.FrameInterval)
	p.readPump(nil)
	p.stop()
	p.log.Info("frame client disconnected")
}

// encodeFrame prefixes an RGB frame with its width and height as big-endian
// uint16 values.
func encodeFrame(width, height int, rgb []byte) []byte {
	msg := make([]byte, 4+len(rgb))
	binary.BigEndian.PutUint16(msg[0:2], uint16(width))
	binary.BigEndian.PutUint16(msg[2:4], uint16(height))
	copy(msg[4:], rgb)
	return msg
}
