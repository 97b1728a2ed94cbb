package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/VanDung-dev/Sicomore-Engine/api"
	"github.com/VanDung-dev/Sicomore-Engine/data"
)

// ZmqClient sends fit requests to a ZmqNode over a REQ socket. Requests are
// serialized; a cancelled request closes the client.
type ZmqClient struct {
	clientID string
	sock     zmq4.Socket
	cancel   context.CancelFunc
	codec    *data.Codec
	mu       sync.Mutex
}

// DialZmq connects a client to endpoint.
func DialZmq(clientID, endpoint string) (*ZmqClient, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewReq(ctx, zmq4.WithID(zmq4.SocketIdentity(clientID)))
	if err := sock.Dial(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return &ZmqClient{
		clientID: clientID,
		sock:     sock,
		cancel:   cancel,
		codec:    data.NewCodec(),
	}, nil
}

// Do sends a raw payload and returns the decoded reply payload.
func (c *ZmqClient) Do(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sock.Send(zmq4.NewMsg(payload)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	type reply struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan reply, 1)
	go func() {
		msg, err := c.sock.Recv()
		done <- reply{msg, err}
	}()

	select {
	case <-ctx.Done():
		c.close()
		<-done
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return api.DecodeResponse(r.msg.Bytes())
	}
}

// Fit sends a fit request and decodes the result table.
func (c *ZmqClient) Fit(ctx context.Context, req *data.FitRequest) (*data.ResultTable, error) {
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

func (c *ZmqClient) close() error {
	c.cancel()
	return c.sock.Close()
}

// Close closes the socket.
func (c *ZmqClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}
