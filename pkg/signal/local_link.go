package signal

import (
	"fmt"
	"sync"
)

// localPeer is the relay-facing half of a LocalLink
type localPeer struct {
	mu      sync.Mutex
	closed  bool
	msgChan chan []byte
}

func (p *localPeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerGone
	}
	select {
	case p.msgChan <- data:
		return nil
	default:
		return ErrPeerGone
	}
}

func (p *localPeer) close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.msgChan)
	return true
}

// LocalLink implements Link for a peer living in the relay's own process,
// used when the host embeds the relay
type LocalLink struct {
	relay *Relay
	peer  *localPeer
}

// AttachLocal opens an in-process connection and sends register on it
func (r *Relay) AttachLocal(register Message) (*LocalLink, error) {
	ll := &LocalLink{
		relay: r,
		peer:  &localPeer{msgChan: make(chan []byte, sendBufferSize)},
	}
	r.Open(ll.peer)
	if err := ll.Send(register); err != nil {
		ll.Close()
		return nil, err
	}
	return ll, nil
}

// Send hands a message to the relay as if it arrived on a connection
func (ll *LocalLink) Send(msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return ll.relay.HandleMessage(ll.peer, data)
}

// Messages returns channel of messages the relay delivered to this peer
func (ll *LocalLink) Messages() <-chan []byte {
	return ll.peer.msgChan
}

// SetDisconnectHandler is a no-op: an in-process link only goes down
// when it is closed
func (ll *LocalLink) SetDisconnectHandler(handler func()) {}

// Close detaches the peer from the relay
func (ll *LocalLink) Close() {
	ll.relay.Close(ll.peer)
	ll.peer.close()
}
