package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// RemoteError is an error returned by the server for a call.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Client issues method calls over one IPC connection. Calls are serialized.
type Client struct {
	conn   *Conn
	mu     sync.Mutex
	nextID uint64
}

// Dial connects to the server at path (a named pipe on Windows, a unix
// socket elsewhere).
func Dial(ctx context.Context, path string, key []byte) (*Client, error) {
	raw, err := dial(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewClient(NewConn(raw, key)), nil
}

// NewClient wraps an established connection.
func NewClient(conn *Conn) *Client {
	return &Client{conn: conn}
}

// Call invokes method with params and decodes the result into out (which may
// be nil). The context deadline bounds the wait for the reply.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("ipc: marshal params: %w", err)
		}
		raw = b
	}

	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	if err := c.conn.Send(&Envelope{ID: id, Type: method, Payload: raw}); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		env, err := c.conn.Recv()
		if err != nil {
			return err
		}
		if env.ID != id || env.Type != TypeResult {
			continue
		}
		if env.Error != "" {
			return &RemoteError{Method: method, Message: env.Error}
		}
		if out != nil && len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, out); err != nil {
				return fmt.Errorf("ipc: decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
