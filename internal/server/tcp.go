// Package server exposes sessions over raw TCP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/config"
	"github.com/scpi-bridge/internal/logging"
	"github.com/scpi-bridge/internal/scpi"
	"github.com/scpi-bridge/internal/session"
)

// Server accepts raw TCP control connections and runs one session per
// connection.
type Server struct {
	config     config.SCPIConfig
	dispatcher *bridge.Dispatcher
	allowed    allowList
	limiter    *rate.Limiter

	mu                sync.Mutex
	listener          net.Listener
	activeConnections map[net.Conn]string
	stopChan          chan struct{}
	wg                sync.WaitGroup
	ctx               context.Context
	cancel            context.CancelFunc
}

// NewServer creates a TCP server. Sessions share dispatcher.
func NewServer(cfg config.SCPIConfig, dispatcher *bridge.Dispatcher) (*Server, error) {
	allowed, err := parseAllowList(cfg.AllowedCIDRs)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:            cfg,
		dispatcher:        dispatcher,
		allowed:           allowed,
		limiter:           limiter,
		activeConnections: make(map[net.Conn]string),
		stopChan:          make(chan struct{}),
		ctx:               ctx,
		cancel:            cancel,
	}, nil
}

// Listen binds the configured port. Port 0 picks a free port; see Addr.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopChan:
		listener.Close()
		return net.ErrClosed
	default:
	}
	s.listener = listener
	log.Printf("SCPI server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until Close.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections on the bound listener until Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Failed to accept connection: %v", err)
			continue
		}

		if !s.allowed.allows(conn.RemoteAddr().String()) {
			log.Printf("Rejected connection from %s (not in allowed CIDRs)", conn.RemoteAddr())
			conn.Close()
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			log.Printf("Rejected connection from %s (accept rate exceeded)", conn.RemoteAddr())
			conn.Close()
			continue
		}

		if !s.track(conn) {
			log.Printf("Rejected connection from %s (limit of %d reached)", conn.RemoteAddr(), s.config.MaxConnections)
			conn.Close()
			continue
		}

		go s.handleConnection(conn)
	}
}

// track registers conn unless the server is closing or the connection limit
// is reached.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing() {
		return false
	}
	if s.config.MaxConnections > 0 && len(s.activeConnections) >= s.config.MaxConnections {
		return false
	}
	s.activeConnections[conn] = conn.RemoteAddr().String()
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeConnections, conn)
}

// ActiveConnections returns the number of open sessions.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConnections)
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			logging.Debugf("SetNoDelay failed for %s: %v", conn.RemoteAddr(), err)
		}
	}

	sess := session.New(scpi.NewLineReader(conn, s.config.MaxLineLength), conn, s.dispatcher)
	log.Printf("Session %s opened for %s", sess.ID(), conn.RemoteAddr())

	if err := sess.Run(s.ctx); err != nil && !s.closing() {
		log.Printf("Session %s ended: %v", sess.ID(), err)
		return
	}
	log.Printf("Session %s closed", sess.ID())
}

func (s *Server) closing() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

// Close stops accepting, disconnects every client and waits for their
// sessions to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		// Already closed
		s.mu.Unlock()
		return nil
	default:
		close(s.stopChan)
	}
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.activeConnections {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
