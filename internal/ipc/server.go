package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twinklywall/ledmirror/internal/logging"
)

// Handler executes one named method call.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// ErrRateLimited is reported to clients that exceed their call budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Server accepts IPC connections and answers method calls. Calls on one
// connection are handled in order; connections are independent.
type Server struct {
	handler Handler
	key     []byte
	limiter *RateLimiter

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server that signs with key and allows callsPerMinute
// calls per connection.
func NewServer(handler Handler, key []byte, callsPerMinute int) *Server {
	if callsPerMinute <= 0 {
		callsPerMinute = 1200
	}
	return &Server{
		handler: handler,
		key:     key,
		limiter: NewRateLimiter(callsPerMinute, time.Minute),
		conns:   make(map[*Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open connection and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()

	log.Info("IPC server listening", "addr", ln.Addr().String())
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			log.Warn("IPC accept failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		conn := NewConn(raw, s.key)
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn *Conn) {
	connID := uuid.NewString()
	clog := log.With(logging.KeyConnID, connID)
	clog.Debug("IPC client connected", "remote", conn.RemoteAddr().String())

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.limiter.Forget(connID)
		conn.Close()
		clog.Debug("IPC client disconnected")
	}()

	for {
		env, err := conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				clog.Warn("IPC receive failed, dropping connection", "error", err)
			}
			return
		}

		switch env.Type {
		case TypePing:
			err = conn.Send(&Envelope{ID: env.ID, Type: TypePong})
		case TypeResult, TypePong:
			// Unsolicited replies; nothing to answer.
			continue
		default:
			err = s.call(ctx, conn, connID, env)
		}
		if err != nil {
			clog.Warn("IPC send failed", "error", err)
			return
		}
	}
}

func (s *Server) call(ctx context.Context, conn *Conn, connID string, env *Envelope) error {
	if !s.limiter.Allow(connID) {
		return conn.SendError(env.ID, TypeResult, ErrRateLimited.Error())
	}

	start := time.Now()
	result, err := s.handler.Handle(ctx, env.Type, env.Payload)
	clog := logging.WithCall(log, env.ID, env.Type)
	if err != nil {
		clog.Debug("IPC call failed", logging.KeyError, err)
		return conn.SendError(env.ID, TypeResult, err.Error())
	}
	clog.Debug("IPC call handled", logging.KeyDurationMs, time.Since(start).Milliseconds())
	return conn.SendTyped(env.ID, TypeResult, result)
}
