package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Outbound frames buffered per connection
	sendBufferSize = 256
)

// Client represents a connected WebSocket peer
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	server    *Server
}

// Send enqueues a text frame without blocking
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrPeerGone
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		// send buffer full, peer is not keeping up
		return ErrPeerGone
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Server exposes a Relay over WebSocket
type Server struct {
	relay    *Relay
	upgrader websocket.Upgrader
}

// NewServer creates a new signaling server around an empty relay
func NewServer() *Server {
	return &Server{
		relay: NewRelay(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // peers are native apps and the viewer tool
			},
		},
	}
}

// Relay returns the relay this server routes through
func (s *Server) Relay() *Relay {
	return s.relay
}

// HandleWebSocket handles WebSocket connections for signaling
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		server: s,
	}
	s.relay.Open(client)

	go client.writePump()
	go client.readPump()
}

// HandleHealth reports relay liveness and slot occupancy
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.relay.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"host":   status.Host,
		"client": status.Client,
	})
}

// Handler returns the HTTP handler serving /ws and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HandleHealth)
	return cors.Default().Handler(mux)
}

// ListenAndServe binds addr and serves until ctx is cancelled.
// A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an existing listener until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Signal server listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// LocalIP returns the preferred outbound IPv4 address of this machine,
// or 127.0.0.1 when none can be determined
func LocalIP() string {
	// UDP dial sends no packets; the target does not have to be reachable
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
