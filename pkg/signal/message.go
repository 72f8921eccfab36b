package signal

import "encoding/json"

// Message types exchanged over the relay
const (
	TypeRegister           = "register"
	TypeRegistered         = "registered"
	TypeOffer              = "offer"
	TypeAnswer             = "answer"
	TypeICECandidate       = "ice-candidate"
	TypeClientConnected    = "client_connected"
	TypeClientDisconnected = "client_disconnected"
	TypeHostDisconnected   = "host_disconnected"
)

// Default geometry advertised for a client that registers without one
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// Role identifies which slot a connection registers for
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Valid reports whether r is one of the two relay roles
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleClient
}

// Other returns the complementary role
func (r Role) Other() Role {
	if r == RoleHost {
		return RoleClient
	}
	return RoleHost
}

// Message represents a relay signaling message.
// Optional fields are pointers so that absent and zero values differ on the wire.
type Message struct {
	Type          string  `json:"type"`                    // one of the Type* constants
	Role          Role    `json:"role,omitempty"`          // register, registered
	Width         *int    `json:"width,omitempty"`         // register (client), client_connected
	Height        *int    `json:"height,omitempty"`        // register (client), client_connected
	SDP           string  `json:"sdp,omitempty"`           // offer, answer
	Candidate     string  `json:"candidate,omitempty"`     // ice-candidate
	SDPMid        *string `json:"sdpMid,omitempty"`        // ice-candidate
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"` // ice-candidate
}

// Geometry returns the advertised width and height, falling back to
// DefaultWidth x DefaultHeight for missing values
func (m Message) Geometry() (width, height int) {
	width, height = DefaultWidth, DefaultHeight
	if m.Width != nil {
		width = *m.Width
	}
	if m.Height != nil {
		height = *m.Height
	}
	return width, height
}

// Register builds a register message. Width and height are only sent when positive.
func Register(role Role, width, height int) Message {
	msg := Message{Type: TypeRegister, Role: role}
	if width > 0 && height > 0 {
		msg.Width = &width
		msg.Height = &height
	}
	return msg
}

// ClientConnected builds the notification sent to the host when a client registers
func ClientConnected(width, height int) Message {
	return Message{Type: TypeClientConnected, Width: &width, Height: &height}
}

// ICECandidate builds an outbound candidate message
func ICECandidate(candidate string, mid *string, mlineIndex *uint16) Message {
	return Message{Type: TypeICECandidate, Candidate: candidate, SDPMid: mid, SDPMLineIndex: mlineIndex}
}

// Marshal encodes msg as a single JSON text frame
func Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Parse decodes a JSON text frame
func Parse(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}
