package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twinklywall/ledmirror/internal/logging"
)

var log = logging.L("ipc")

var (
	ErrHMACMismatch = errors.New("ipc: HMAC mismatch")
	ErrReplay       = errors.New("ipc: sequence number not increasing")
)

// KeyFromSecret derives the HMAC key from the configured shared secret. An
// empty secret yields an all-zero key, which still detects corruption but
// authenticates nothing.
func KeyFromSecret(secret string) []byte {
	if secret == "" {
		return make([]byte, sha256.Size)
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Conn wraps a net.Conn with length-prefixed JSON framing, HMAC signing,
// and sequence number validation.
type Conn struct {
	conn    net.Conn
	key     []byte
	sendSeq atomic.Uint64
	recvSeq uint64     // only touched by the single reader
	mu      sync.Mutex // serializes writes
}

// NewConn wraps a raw connection. Both ends must use the same key.
func NewConn(conn net.Conn, key []byte) *Conn {
	if key == nil {
		key = KeyFromSecret("")
	}
	return &Conn{conn: conn, key: key}
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Send signs env and writes it as [4-byte BE length][JSON]. The sequence
// number is assigned here.
func (c *Conn) Send(env *Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	env.Seq = c.sendSeq.Add(1)
	env.HMAC = computeHMAC(c.key, env)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("ipc: message too large: %d > %d", len(data), MaxMessageSize)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("ipc: write: %w", err)
	}
	return nil
}

// Recv reads one message and validates its HMAC and sequence number.
// Recv must not be called concurrently.
func (c *Conn) Recv() (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxMessageSize {
		return nil, fmt.Errorf("ipc: message too large: %d > %d", length, MaxMessageSize)
	}
	if length == 0 {
		return nil, fmt.Errorf("ipc: zero-length message")
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, fmt.Errorf("ipc: read payload: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal envelope: %w", err)
	}

	expected := computeHMAC(c.key, &env)
	if !hmac.Equal([]byte(env.HMAC), []byte(expected)) {
		return nil, ErrHMACMismatch
	}
	if env.Seq <= c.recvSeq {
		return nil, fmt.Errorf("%w: %d <= %d", ErrReplay, env.Seq, c.recvSeq)
	}
	c.recvSeq = env.Seq

	return &env, nil
}

// SendTyped wraps payload into an envelope and sends it.
func (c *Conn) SendTyped(id, msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ipc: marshal payload: %w", err)
	}
	return c.Send(&Envelope{ID: id, Type: msgType, Payload: raw})
}

// SendError sends an error envelope.
func (c *Conn) SendError(id, msgType, errMsg string) error {
	return c.Send(&Envelope{ID: id, Type: msgType, Error: errMsg})
}

// computeHMAC calculates HMAC-SHA256(key, id||seq||type||payload||error).
func computeHMAC(key []byte, env *Envelope) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(env.ID))
	mac.Write([]byte(strconv.FormatUint(env.Seq, 10)))
	mac.Write([]byte(env.Type))
	mac.Write(env.Payload)
	mac.Write([]byte(env.Error))
	return hex.EncodeToString(mac.Sum(nil))
}
