package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scpi-bridge/internal/auth"
	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/config"
	"github.com/scpi-bridge/internal/logging"
	"github.com/scpi-bridge/internal/scpi"
	"github.com/scpi-bridge/internal/session"
)

const writeWait = 10 * time.Second

// WSHandler serves sessions over WebSocket. Text or binary messages are
// concatenated into the command stream, so a message may carry several
// terminated lines or part of one. Every reply is sent as one text message.
type WSHandler struct {
	dispatcher    *bridge.Dispatcher
	allowed       allowList
	maxLineLength int
	upgrader      websocket.Upgrader
	verifier      *auth.Verifier

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// WSOption configures a WSHandler.
type WSOption func(*WSHandler)

// WithVerifier requires a valid bearer token on every upgrade request.
func WithVerifier(v *auth.Verifier) WSOption {
	return func(h *WSHandler) { h.verifier = v }
}

// NewWSHandler creates a handler applying the same client allowlist and line
// limit as the TCP server.
func NewWSHandler(cfg config.SCPIConfig, dispatcher *bridge.Dispatcher, opts ...WSOption) (*WSHandler, error) {
	allowed, err := parseAllowList(cfg.AllowedCIDRs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &WSHandler{
		dispatcher:    dispatcher,
		allowed:       allowed,
		maxLineLength: cfg.MaxLineLength,
		ctx:           ctx,
		cancel:        cancel,
	}
	h.upgrader = websocket.Upgrader{
		// Access is controlled by the allowlist, not by origin.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.allowed.allows(r.RemoteAddr) {
		log.Printf("Rejected WebSocket client %s (not in allowed CIDRs)", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if h.verifier != nil {
		claims, err := h.verifier.VerifyRequest(r)
		if err != nil {
			log.Printf("Rejected WebSocket client %s: %v", r.RemoteAddr, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		logging.Debugf("WebSocket client %s authenticated as %s", r.RemoteAddr, claims.Subject)
	}

	if !h.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-h.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sess := session.New(scpi.NewLineReader(&wsReader{conn: conn}, h.maxLineLength), &wsWriter{conn: conn}, h.dispatcher)
	log.Printf("Session %s opened for WebSocket client %s", sess.ID(), r.RemoteAddr)

	if err := sess.Run(h.ctx); err != nil && h.ctx.Err() == nil {
		log.Printf("Session %s ended: %v", sess.ID(), err)
		return
	}
	log.Printf("Session %s closed", sess.ID())
}

// track registers a session unless Close has started.
func (h *WSHandler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

// Close disconnects every WebSocket session and waits for them to end.
func (h *WSHandler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

// wsReader presents incoming messages as one byte stream.
type wsReader struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (r *wsReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			_, next, err := r.conn.NextReader()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) {
					return 0, io.EOF
				}
				return 0, err
			}
			r.cur = next
		}

		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			r.cur = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// wsWriter sends each Write as one text message.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WSServer is an HTTP server exposing WSHandler at the configured path.
type WSServer struct {
	handler *WSHandler
	server  *http.Server
}

// NewWSServer creates the WebSocket listener described by cfg.Network.
func NewWSServer(cfg config.NetworkConfig, dispatcher *bridge.Dispatcher) (*WSServer, error) {
	var opts []WSOption
	if cfg.WebSocket.Auth.Algorithm != "" {
		verifier, err := newVerifier(cfg.WebSocket.Auth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithVerifier(verifier))
	}

	handler, err := NewWSHandler(cfg.SCPI, dispatcher, opts...)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.WebSocket.Path, handler)

	return &WSServer{
		handler: handler,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WebSocket.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newVerifier(cfg config.WSAuthConfig) (*auth.Verifier, error) {
	authCfg := auth.Config{
		Algorithm:     cfg.Algorithm,
		SecretKey:     cfg.Secret,
		RequiredScope: cfg.RequiredScope,
	}
	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read websocket public key: %w", err)
		}
		authCfg.PublicKeyPEM = string(pem)
	}
	return auth.NewVerifier(authCfg)
}

// ListenAndServe serves until Close.
func (s *WSServer) ListenAndServe() error {
	log.Printf("WebSocket server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// Close stops the HTTP server and ends every session.
func (s *WSServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.handler.Close()
	return s.server.Shutdown(ctx)
}
