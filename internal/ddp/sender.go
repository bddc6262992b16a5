package ddp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/twinklywall/ledmirror/internal/logging"
)

var log = logging.L("ddp")

// Config describes the LED controller endpoint.
type Config struct {
	Host       string
	Port       int
	MaxPayload int
	// DSCP is the 6-bit differentiated services code point; 46 is
	// expedited forwarding.
	DSCP int
}

// Stats counts traffic since the sender was created.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Errors  uint64 `json:"errors"`
}

// Sender writes frames to one controller over a connected UDP socket.
type Sender struct {
	conn net.Conn
	addr string

	mu  sync.Mutex
	pkt *Packetizer

	frames  atomic.Uint64
	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
}

// Dial resolves the controller and opens the UDP socket.
func Dial(ctx context.Context, cfg Config) (*Sender, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = MaxPayload
	}
	pkt, err := NewPacketizer(cfg.MaxPayload)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("ddp: dial %s: %w", addr, err)
	}

	if cfg.DSCP > 0 {
		if err := ipv4.NewConn(conn).SetTOS(cfg.DSCP << 2); err != nil {
			// Some platforms refuse TOS changes for unprivileged sockets.
			log.Warn("failed to set DSCP", "dscp", cfg.DSCP, logging.KeyError, err)
		}
	}

	log.Info("ddp output ready", "addr", addr, "maxPayload", cfg.MaxPayload)
	return &Sender{conn: conn, addr: addr, pkt: pkt}, nil
}

// Addr is the controller address packets are sent to.
func (s *Sender) Addr() string { return s.addr }

// Send writes one frame as a sequence of DDP packets.
func (s *Sender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.pkt.Split(frame, func(p []byte) error {
		if _, err := s.conn.Write(p); err != nil {
			return err
		}
		s.bytes.Add(uint64(len(p)))
		return nil
	})
	s.packets.Add(uint64(n))
	if err != nil {
		s.errors.Add(1)
		return fmt.Errorf("ddp: send to %s: %w", s.addr, err)
	}
	if n > 0 {
		s.frames.Add(1)
	}
	return nil
}

func (s *Sender) Stats() Stats {
	return Stats{
		Frames:  s.frames.Load(),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Errors:  s.errors.Load(),
	}
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
