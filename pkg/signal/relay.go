package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
)

var (
	// ErrMalformedMessage is returned for frames that are not valid JSON messages
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownType is returned for messages the relay does not route
	ErrUnknownType = errors.New("unknown message type")

	// ErrPeerGone is returned by Peer.Send when the connection is closed or its
	// send buffer is full
	ErrPeerGone = errors.New("peer connection gone")
)

// Peer is one connection attached to the relay.
// Send must not block: it enqueues a text frame for delivery.
type Peer interface {
	Send(data []byte) error
}

// Status is a snapshot of the relay slots
type Status struct {
	Host   bool `json:"host"`
	Client bool `json:"client"`
}

// Relay pairs one host with one client and forwards negotiation messages
// between them. The two role slots are last-writer-wins.
type Relay struct {
	mu     sync.Mutex
	host   Peer
	client Peer
	roles  map[Peer]Role // role recorded per connection, including orphaned ones
}

// NewRelay creates an empty relay
func NewRelay() *Relay {
	return &Relay{
		roles: make(map[Peer]Role),
	}
}

// Open records a new connection. It holds no slot until it registers.
func (r *Relay) Open(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.roles[p]; !exists {
		r.roles[p] = ""
	}
}

// envelope holds the only field the relay needs to route a frame
type envelope struct {
	Type string `json:"type"`
}

// registration holds the fields of a register message
type registration struct {
	Role   Role `json:"role"`
	Width  *int `json:"width"`
	Height *int `json:"height"`
}

// HandleMessage routes one raw frame received from p. Forwarded payloads
// are never decoded beyond their type.
func (r *Relay) HandleMessage(p Peer, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Relay: invalid message format: %v", err)
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeRegister:
		var reg registration
		if err := json.Unmarshal(raw, &reg); err != nil {
			log.Printf("Relay: invalid register message: %v", err)
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return r.register(p, Message{Type: TypeRegister, Role: reg.Role, Width: reg.Width, Height: reg.Height})
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return r.forward(p, env.Type, raw)
	default:
		log.Printf("Relay: unknown message type: %q", env.Type)
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// register stores p as the holder of msg.Role, evicting the previous holder
func (r *Relay) register(p Peer, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Role.Valid() {
		prev := r.roles[p]
		if prev.Valid() && prev != msg.Role && r.slot(prev) == p {
			// a connection holds at most one slot
			r.setSlot(prev, nil)
		}

		if holder := r.slot(msg.Role); holder != nil && holder != p {
			log.Printf("Relay: %s re-registered, previous connection orphaned", msg.Role)
		}
		r.setSlot(msg.Role, p)
		r.roles[p] = msg.Role
		log.Printf("Relay: %s registered", msg.Role)

		if msg.Role == RoleClient && r.host != nil {
			width, height := msg.Geometry()
			r.deliver(r.host, ClientConnected(width, height))
		}
	} else {
		log.Printf("Relay: register with unknown role %q", msg.Role)
	}

	r.deliver(p, Message{Type: TypeRegistered, Role: msg.Role})
	return nil
}

// forward sends raw unchanged to the peer complementary to the sender's role
func (r *Relay) forward(p Peer, msgType string, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := r.roles[p]
	if !role.Valid() {
		log.Printf("Relay: cannot forward %s: sender not registered", msgType)
		return nil
	}

	target := r.slot(role.Other())
	if target == nil {
		log.Printf("Relay: cannot forward %s: target peer not connected", msgType)
		return nil
	}

	log.Printf("Relay: forwarding %s from %s", msgType, role)
	if err := target.Send(raw); err != nil {
		log.Printf("Relay: forward %s to %s failed: %v", msgType, role.Other(), err)
	}
	return nil
}

// Close removes p. If p still holds its slot, the other slot is notified
// exactly once.
func (r *Relay) Close(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, known := r.roles[p]
	delete(r.roles, p)
	if !known || !role.Valid() || r.slot(role) != p {
		return
	}

	r.setSlot(role, nil)
	log.Printf("Relay: %s disconnected", role)

	other := r.slot(role.Other())
	if other == nil {
		return
	}
	notice := TypeHostDisconnected
	if role == RoleClient {
		notice = TypeClientDisconnected
	}
	r.deliver(other, Message{Type: notice})
}

// Status returns which slots are currently held
func (r *Relay) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Host: r.host != nil, Client: r.client != nil}
}

// Holder returns the connection currently holding role, or nil
func (r *Relay) Holder(role Role) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot(role)
}

func (r *Relay) slot(role Role) Peer {
	switch role {
	case RoleHost:
		return r.host
	case RoleClient:
		return r.client
	}
	return nil
}

func (r *Relay) setSlot(role Role, p Peer) {
	switch role {
	case RoleHost:
		r.host = p
	case RoleClient:
		r.client = p
	}
}

// deliver encodes and enqueues a synthesized message. Called with r.mu held;
// Peer.Send never blocks.
func (r *Relay) deliver(p Peer, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Relay: encode %s failed: %v", msg.Type, err)
		return
	}
	if err := p.Send(data); err != nil {
		log.Printf("Relay: send %s failed: %v", msg.Type, err)
	}
}
