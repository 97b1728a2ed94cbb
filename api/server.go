package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// ErrServerRunning is returned when starting a server twice.
var ErrServerRunning = errors.New("server is already running")

// ArrowServer is a TCP server that answers length-prefixed Arrow IPC fit
// requests.
type ArrowServer struct {
	listener net.Listener
	handler  *FitHandler
	auth     *Authenticator
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

// NewArrowServer creates a new ArrowServer instance. A nil auth disables
// authentication.
func NewArrowServer(handler *FitHandler, auth *Authenticator, logger *zap.Logger) *ArrowServer {
	if auth == nil {
		auth = NewAuthenticator(AuthConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArrowServer{
		handler: handler,
		auth:    auth,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start starts the Arrow server on the specified address.
// This method blocks until the server is stopped or fails.
func (s *ArrowServer) Start(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}
	s.acceptLoop(lis)
	return nil
}

// StartAsync starts the server in a background goroutine.
func (s *ArrowServer) StartAsync(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}
	go s.acceptLoop(lis)
	return nil
}

func (s *ArrowServer) listen(address string) (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrServerRunning
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.logger.Info("arrow server listening",
		zap.String("address", lis.Addr().String()),
		zap.Bool("auth", s.auth.IsEnabled()))
	return lis, nil
}

func (s *ArrowServer) acceptLoop(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.IsRunning() {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *ArrowServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *ArrowServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// Addr returns the listening address, or nil before Start.
func (s *ArrowServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the server accepts connections.
func (s *ArrowServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop closes the listener and every open connection, cancels running fits
// and waits for connection handlers to return.
func (s *ArrowServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	if err := s.listener.Close(); err != nil {
		s.logger.Debug("listener close", zap.Error(err))
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("arrow server stopped")
}

// handleConnection authenticates a client and then answers requests until
// the client disconnects.
func (s *ArrowServer) handleConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	if s.auth.IsEnabled() {
		if err := s.auth.Authenticate(conn); err != nil {
			s.logger.Warn("authentication failed", zap.String("remote", remote), zap.Error(err))
			return
		}
	}

	for {
		data, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.IsRunning() {
				s.logger.Debug("read failed", zap.String("remote", remote), zap.Error(err))
			}
			return
		}

		response := s.handler.Serve(s.ctx, "tcp", data)

		if err := WriteMessage(conn, response); err != nil {
			s.logger.Debug("write failed", zap.String("remote", remote), zap.Error(err))
			return
		}
	}
}
