package signal

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RemoteLink implements Link over a WebSocket connection to a relay
type RemoteLink struct {
	conn         *websocket.Conn
	send         chan []byte
	msgChan      chan []byte
	done         chan struct{}
	onDisconnect func()
	closed       bool
	closeMu      sync.Mutex
}

// NormalizeURL turns a relay address into its WebSocket endpoint URL.
// http(s) schemes become ws(s), a bare host gets ws://, and /ws is appended
// when no path is given.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://"):
		u = "ws://" + u
	}

	rest := u[strings.Index(u, "://")+3:]
	if !strings.Contains(rest, "/") || strings.HasSuffix(rest, "/") {
		u = strings.TrimSuffix(u, "/") + "/ws"
	}
	return u
}

// DialLink connects to the relay at url and sends the register message
func DialLink(ctx context.Context, url string, register Message) (*RemoteLink, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, NormalizeURL(url), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	if err := conn.WriteJSON(register); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register with relay: %w", err)
	}

	return NewRemoteLink(conn), nil
}

// NewRemoteLink wraps an established connection
func NewRemoteLink(conn *websocket.Conn) *RemoteLink {
	rl := &RemoteLink{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		msgChan: make(chan []byte, 100),
		done:    make(chan struct{}),
	}
	go rl.readLoop()
	go rl.writeLoop()
	return rl
}

func (rl *RemoteLink) readLoop() {
	defer func() {
		close(rl.msgChan)
		rl.closeMu.Lock()
		if rl.onDisconnect != nil && !rl.closed {
			rl.onDisconnect()
		}
		rl.closeMu.Unlock()
	}()

	for {
		msgType, data, err := rl.conn.ReadMessage()
		if err != nil {
			log.Printf("WebSocket read error: %v", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case rl.msgChan <- data:
		case <-rl.done:
			return
		}
	}
}

// writeLoop is the only writer of data frames. On Close it sends a close
// frame and closes the connection.
func (rl *RemoteLink) writeLoop() {
	defer rl.conn.Close()

	for {
		select {
		case data := <-rl.send:
			rl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := rl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		case <-rl.done:
			rl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			rl.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send enqueues a message for the relay without blocking
func (rl *RemoteLink) Send(msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	select {
	case <-rl.done:
		return ErrPeerGone
	default:
	}

	select {
	case rl.send <- data:
		return nil
	default:
		return fmt.Errorf("send %s: %w", msg.Type, ErrPeerGone)
	}
}

// Messages returns channel of incoming raw messages
func (rl *RemoteLink) Messages() <-chan []byte {
	return rl.msgChan
}

// SetDisconnectHandler sets callback for when connection is lost
func (rl *RemoteLink) SetDisconnectHandler(handler func()) {
	rl.closeMu.Lock()
	rl.onDisconnect = handler
	rl.closeMu.Unlock()
}

// Close shuts down the link
func (rl *RemoteLink) Close() {
	rl.closeMu.Lock()
	defer rl.closeMu.Unlock()
	if !rl.closed {
		rl.closed = true
		close(rl.done)
	}
}
