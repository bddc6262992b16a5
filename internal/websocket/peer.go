package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/twinklywall/ledmirror/internal/logging"
)

var (
	errPeerClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// peer is one upgraded connection with a single writer goroutine.
type peer struct {
	conn     *websocket.Conn
	log      *slog.Logger
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		conn: conn,
		log:  log.With(logging.KeyConnID, uuid.NewString()),
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (p *peer) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		p.conn.Close()
	})
}

// enqueue queues a text message without blocking.
func (p *peer) enqueue(msg []byte) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.send <- msg:
		return nil
	case <-p.done:
		return errPeerClosed
	default:
		return errQueueFull
	}
}

// readPump reads until the connection fails, passing text messages to
// onMessage when it is non-nil.
func (p *peer) readPump(onMessage func([]byte)) {
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Warn("read error", logging.KeyError, err)
			}
			return
		}
		if onMessage != nil && kind == websocket.TextMessage {
			onMessage(message)
		}
	}
}

// writePump owns all writes: queued text messages, keepalive pings and, when
// frames is non-nil, binary frames whenever the frame sequence advances.
func (p *peer) writePump(frames FrameSource, interval time.Duration) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var poll <-chan time.Time
	if frames != nil {
		t := time.NewTicker(interval)
		defer t.Stop()
		poll = t.C
	}
	var seq uint64

	for {
		select {
		case <-p.done:
			return

		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.log.Warn("write error", logging.KeyError, err)
				p.stop()
				return
			}

		case <-poll:
			frame, next := frames.LatestFrameSince(seq)
			if frame == nil {
				continue
			}
			seq = next
			size := frames.TargetSize()
			if size.Bytes() != len(frame) {
				// Target changed between publish and read; wait for the next frame.
				continue
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(size.Width, size.Height, frame)); err != nil {
				p.log.Warn("frame write error", logging.KeyError, err)
				p.stop()
				return
			}

		case <-ping.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.stop()
				return
			}
		}
	}
}
