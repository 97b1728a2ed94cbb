package api

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/Sicomore-Engine/data"
)

// Client sends fit requests to an ArrowServer over one connection.
type Client struct {
	conn  net.Conn
	codec *data.Codec
	mu    sync.Mutex
}

// Dial connects to addr and, when token is set, authenticates.
func Dial(ctx context.Context, addr, token string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if token != "" {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		if err := Handshake(conn, token); err != nil {
			conn.Close()
			return nil, err
		}
		_ = conn.SetDeadline(time.Time{})
	}

	return &Client{conn: conn, codec: data.NewCodec()}, nil
}

// Do sends a raw request payload and returns the decoded reply payload.
func (c *Client) Do(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := WriteMessage(c.conn, payload); err != nil {
		return nil, err
	}
	resp, err := ReadMessage(c.conn)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(resp)
}

// Fit sends a fit request and decodes the result table.
func (c *Client) Fit(ctx context.Context, req *data.FitRequest) (*data.ResultTable, error) {
	payload, err := c.codec.EncodeFitRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.Do(ctx, payload)
	if err != nil {
		return nil, err
	}
	return c.codec.DecodeResult(out)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
