package signal

import (
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// readPump reads messages from the WebSocket and hands them to the relay
func (c *Client) readPump() {
	defer func() {
		c.server.relay.Close(c)
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if msgType != websocket.TextMessage {
			log.Printf("Dropping non-text frame (%d bytes)", len(message))
			continue
		}

		if err := c.server.relay.HandleMessage(c, message); err != nil &&
			!errors.Is(err, ErrMalformedMessage) && !errors.Is(err, ErrUnknownType) {
			log.Printf("Relay error: %v", err)
		}
	}
}

// writePump sends queued messages and keepalive pings to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
