package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"github.com/VanDung-dev/Sicomore-Engine/api"
)

// MaxNetworkMessageSize is the largest request payload a node accepts.
const MaxNetworkMessageSize = api.MaxMessageSize

// Common errors for network operations
var (
	ErrNodeNotRunning = errors.New("node is not running")
	ErrNodeRunning    = errors.New("node already running")
	ErrBusy           = errors.New("node is busy")
	ErrSendFailed     = errors.New("failed to send message")
	ErrMalformed      = errors.New("malformed message")
)

// transport labels requests served by a node in metrics and logs.
const transport = "zmq"

// Handler turns a request payload into a reply payload. *api.FitHandler is
// the production implementation.
type Handler interface {
	Serve(ctx context.Context, transport string, payload []byte) []byte
}

// request is one received message with its routing envelope.
type request struct {
	envelope [][]byte
	payload  []byte
}

// ZmqNode answers fit requests on a ZeroMQ ROUTER socket. Requests are
// queued and processed by a fixed number of workers; replies are routed
// back to the sending peer.
type ZmqNode struct {
	nodeID  string
	address string
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	router zmq4.Socket
	sendMu sync.Mutex

	handler Handler
	queue   chan request
	logger  *zap.Logger

	received int64
	rejected int64
	served   int64

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewZmqNode creates a node bound to tcp://host:port once started. Port 0
// picks a free port.
func NewZmqNode(nodeID, host string, port int, handler Handler, workers, queueSize int, logger *zap.Logger) *ZmqNode {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZmqNode{
		nodeID:  nodeID,
		address: fmt.Sprintf("tcp://%s", net.JoinHostPort(host, fmt.Sprint(port))),
		workers: workers,
		handler: handler,
		queue:   make(chan request, queueSize),
		logger:  logger.With(zap.String("node", nodeID)),
	}
}

// Start binds the ROUTER socket and starts the receiver and workers.
func (n *ZmqNode) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrNodeRunning
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.router = zmq4.NewRouter(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.nodeID)))
	if err := n.router.Listen(n.address); err != nil {
		n.cancel()
		return fmt.Errorf("failed to bind router: %w", err)
	}
	if addr := n.router.Addr(); addr != nil {
		n.address = "tcp://" + addr.String()
	}
	n.running = true

	n.wg.Add(1)
	go n.receiverLoop()
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	n.logger.Info("zmq node listening", zap.String("address", n.address), zap.Int("workers", n.workers))
	return nil
}

// Stop closes the socket, cancels running fits and waits for the workers.
func (n *ZmqNode) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	n.cancel()
	if err := n.router.Close(); err != nil {
		n.logger.Debug("router close", zap.Error(err))
	}
	n.wg.Wait()
	n.logger.Info("zmq node stopped")
}

// Endpoint returns the bound endpoint, with the chosen port once started.
func (n *ZmqNode) Endpoint() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.address
}

// receiverLoop reads requests and queues them for the workers. A full queue
// gets an immediate busy reply.
func (n *ZmqNode) receiverLoop() {
	defer n.wg.Done()

	for {
		msg, err := n.router.Recv()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				continue
			}
		}
		atomic.AddInt64(&n.received, 1)

		req, err := parseRequest(msg)
		if err != nil {
			atomic.AddInt64(&n.rejected, 1)
			n.logger.Debug("dropping message", zap.Error(err))
			if len(msg.Frames) > 1 {
				n.reply(req.envelope, api.ErrorResponse(err))
			}
			continue
		}

		select {
		case n.queue <- req:
		default:
			atomic.AddInt64(&n.rejected, 1)
			n.reply(req.envelope, api.ErrorResponse(ErrBusy))
		}
	}
}

// parseRequest splits a ROUTER message into its envelope (identity and any
// delimiter frames) and the payload, which is the last frame.
func parseRequest(msg zmq4.Msg) (request, error) {
	if len(msg.Frames) < 2 {
		return request{}, fmt.Errorf("%w: %d frames", ErrMalformed, len(msg.Frames))
	}
	last := len(msg.Frames) - 1
	req := request{envelope: msg.Frames[:last], payload: msg.Frames[last]}
	if len(req.payload) > MaxNetworkMessageSize {
		return req, fmt.Errorf("%w: %d bytes (max: %d)", api.ErrMessageTooLarge, len(req.payload), MaxNetworkMessageSize)
	}
	return req, nil
}

func (n *ZmqNode) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case req := <-n.queue:
			resp := n.handler.Serve(n.ctx, transport, req.payload)
			if n.reply(req.envelope, resp) == nil {
				atomic.AddInt64(&n.served, 1)
			}
		}
	}
}

func (n *ZmqNode) reply(envelope [][]byte, resp []byte) error {
	frames := make([][]byte, 0, len(envelope)+1)
	frames = append(frames, envelope...)
	frames = append(frames, resp)

	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	if err := n.router.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		n.logger.Debug("reply failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// NodeStats contains node statistics.
type NodeStats struct {
	NodeID    string `json:"node_id"`
	Address   string `json:"address"`
	IsRunning bool   `json:"is_running"`
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	Received  int64  `json:"received"`
	Rejected  int64  `json:"rejected"`
	Served    int64  `json:"served"`
}

// GetStats returns current node statistics.
func (n *ZmqNode) GetStats() NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return NodeStats{
		NodeID:    n.nodeID,
		Address:   n.address,
		IsRunning: n.running,
		Workers:   n.workers,
		QueueSize: len(n.queue),
		Received:  atomic.LoadInt64(&n.received),
		Rejected:  atomic.LoadInt64(&n.rejected),
		Served:    atomic.LoadInt64(&n.served),
	}
}
