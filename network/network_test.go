package network

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"github.com/VanDung-dev/Sicomore-Engine/api"
	"github.com/VanDung-dev/Sicomore-Engine/data"
	"github.com/VanDung-dev/Sicomore-Engine/engine"
	"github.com/VanDung-dev/Sicomore-Engine/testutil"
)

func newHandler(t *testing.T) *api.FitHandler {
	eng := engine.New(2, zap.NewNop())
	t.Cleanup(eng.Close)
	return api.NewFitHandler(eng, engine.DefaultConfig())
}

func fitRequest() *data.FitRequest {
	rng := rand.New(rand.NewSource(7))
	X1, l1 := testutil.Blocks(rng, 50, []int{3, 3}, 0.2)
	X2, l2 := testutil.Blocks(rng, 50, []int{2, 2}, 0.2)
	noise := testutil.Noise(rng, 50, 0.3)
	y := make([]float64, 50)
	for i := range y {
		y[i] = 2*l1[0][i] - l2[1][i] + noise[i]
	}

	cfg := engine.DefaultConfig()
	cfg.CV.Folds = 3
	cfg.CV.NLambda = 20
	return &data.FitRequest{
		Y: y,
		Datasets: []engine.Dataset{
			{Name: "genes", X: X1},
			{Name: "taxa", X: X2},
		},
		Config: cfg,
	}
}

func TestNewZmqNode(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, nil, 0, 0, nil)
	if node == nil {
		t.Fatal("NewZmqNode returned nil")
	}

	if node.nodeID != "test-node" {
		t.Errorf("Expected nodeID 'test-node', got %s", node.nodeID)
	}

	if node.Endpoint() != "tcp://127.0.0.1:5555" {
		t.Errorf("Expected address 'tcp://127.0.0.1:5555', got %s", node.Endpoint())
	}

	stats := node.GetStats()
	if stats.IsRunning {
		t.Error("Node should not be running")
	}
	if stats.Workers != 1 {
		t.Errorf("Expected 1 worker, got %d", stats.Workers)
	}
}

func TestParseRequest(t *testing.T) {
	if _, err := parseRequest(zmq4.NewMsg([]byte("payload"))); err == nil {
		t.Error("Expected error for a message without identity")
	}

	req, err := parseRequest(zmq4.NewMsgFrom([]byte("peer"), nil, []byte("payload")))
	if err != nil {
		t.Fatalf("parseRequest failed: %v", err)
	}
	if len(req.envelope) != 2 || string(req.envelope[0]) != "peer" {
		t.Errorf("Unexpected envelope %q", req.envelope)
	}
	if string(req.payload) != "payload" {
		t.Errorf("Expected payload 'payload', got %q", req.payload)
	}
}

func TestParseRequestTooLarge(t *testing.T) {
	payload := make([]byte, MaxNetworkMessageSize+1)
	req, err := parseRequest(zmq4.NewMsgFrom([]byte("peer"), nil, payload))
	if !errors.Is(err, api.ErrMessageTooLarge) {
		t.Fatalf("Expected ErrMessageTooLarge, got %v", err)
	}
	// the envelope survives so the node can still answer the peer
	if len(req.envelope) != 2 || string(req.envelope[0]) != "peer" {
		t.Errorf("Unexpected envelope %q", req.envelope)
	}
}

// holdHandler keeps every request until released, echoing the payload.
type holdHandler struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newHoldHandler() *holdHandler {
	return &holdHandler{started: make(chan struct{}), release: make(chan struct{})}
}

func (h *holdHandler) Serve(ctx context.Context, transport string, payload []byte) []byte {
	h.once.Do(func() { close(h.started) })
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return api.EncodeResponse(api.StatusOK, payload)
}

func waitReceived(t *testing.T, node *ZmqNode, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for node.GetStats().Received < want {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d received requests", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestZmqNodeBusy(t *testing.T) {
	handler := newHoldHandler()
	node := NewZmqNode("busy-node", "127.0.0.1", 0, handler, 1, 1, zap.NewNop())
	if err := node.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer node.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dial := func(id string) *ZmqClient {
		c, err := DialZmq(id, node.Endpoint())
		if err != nil {
			t.Fatalf("DialZmq failed: %v", err)
		}
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	running, queued, rejected := dial("running"), dial("queued"), dial("rejected")

	type outcome struct {
		out []byte
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		out, err := running.Do(ctx, []byte("first"))
		first <- outcome{out, err}
	}()
	select {
	case <-handler.started:
	case <-ctx.Done():
		t.Fatal("Worker never picked up the first request")
	}

	second := make(chan outcome, 1)
	go func() {
		out, err := queued.Do(ctx, []byte("second"))
		second <- outcome{out, err}
	}()
	// the receiver queues one message before reading the next
	waitReceived(t, node, 2)

	_, err := rejected.Do(ctx, []byte("third"))
	if !errors.Is(err, api.ErrRemote) || !strings.Contains(err.Error(), ErrBusy.Error()) {
		t.Fatalf("Expected busy reply, got %v", err)
	}

	close(handler.release)
	for name, ch := range map[string]chan outcome{"first": first, "second": second} {
		r := <-ch
		if r.err != nil {
			t.Errorf("%s request failed: %v", name, r.err)
		} else if string(r.out) != name {
			t.Errorf("Expected echo %q, got %q", name, r.out)
		}
	}

	stats := node.GetStats()
	if stats.Received != 3 {
		t.Errorf("Expected 3 received requests, got %d", stats.Received)
	}
	if stats.Rejected != 1 {
		t.Errorf("Expected 1 rejected request, got %d", stats.Rejected)
	}
}

func TestZmqNodeFit(t *testing.T) {
	node := NewZmqNode("fit-node", "127.0.0.1", 0, newHandler(t), 2, 8, zap.NewNop())
	if err := node.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer node.Stop()

	if err := node.Start(); err != ErrNodeRunning {
		t.Errorf("Expected ErrNodeRunning, got %v", err)
	}

	client, err := DialZmq("client-1", node.Endpoint())
	if err != nil {
		t.Fatalf("DialZmq failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	table, err := client.Fit(ctx, fitRequest())
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if table.N != 50 {
		t.Errorf("Expected N 50, got %d", table.N)
	}

	interactions := 0
	for _, row := range table.Rows {
		if row.Kind == string(engine.Interaction) {
			interactions++
			if row.DatasetA != "genes" || row.DatasetB != "taxa" {
				t.Errorf("Unexpected interaction datasets %s, %s", row.DatasetA, row.DatasetB)
			}
		}
	}
	if interactions == 0 {
		t.Error("Expected interaction terms between the two datasets")
	}

	// Errors come back as replies
	if _, err := client.Do(ctx, []byte("garbage")); err == nil {
		t.Error("Expected error for garbage payload")
	}

	stats := node.GetStats()
	if stats.Received != 2 {
		t.Errorf("Expected 2 received requests, got %d", stats.Received)
	}
}

func TestZmqNodeStop(t *testing.T) {
	node := NewZmqNode("stop-node", "127.0.0.1", 0, newHandler(t), 1, 1, nil)
	if err := node.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	node.Stop()
	node.Stop()

	if node.GetStats().IsRunning {
		t.Error("Node should not be running after Stop")
	}
}
