package session

import (
	"context"
	"errors"

	"github.com/tomaslejdung/deskcast/pkg/signal"
)

var (
	// ErrEngineOperation marks a failed offer, description or candidate operation
	ErrEngineOperation = errors.New("media engine operation failed")

	// ErrDisplaySwitchFailed marks a display mode switch that did not take effect
	ErrDisplaySwitchFailed = errors.New("display switch failed")
)

// ConnectivityState is the peer connection state reported by the media engine
type ConnectivityState string

const (
	StateNew          ConnectivityState = "new"
	StateConnecting   ConnectivityState = "connecting"
	StateConnected    ConnectivityState = "connected"
	StateDisconnected ConnectivityState = "disconnected"
	StateFailed       ConnectivityState = "failed"
	StateClosed       ConnectivityState = "closed"
)

// Terminal reports whether the state ends the session
func (s ConnectivityState) Terminal() bool {
	return s == StateFailed || s == StateClosed || s == StateDisconnected
}

// Description is a session description handed to the engine
type Description struct {
	Type string // "offer" or "answer"
	SDP  string
}

// Candidate is one connectivity candidate
type Candidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// DataChannel is the handle of the pointer data channel
type DataChannel interface {
	Label() string
	Send(data []byte) error
	Close() error
}

// EngineHandlers receive media engine callbacks. They may be invoked from
// any goroutine.
type EngineHandlers struct {
	OnCandidate                func(c Candidate)
	OnDataChannelOpen          func(dc DataChannel)
	OnConnectivityStateChanged func(state ConnectivityState)
}

// MediaEngine owns the capture/encode pipeline and the peer connection
type MediaEngine interface {
	// StartPipeline starts capture and encode and returns once the pipeline
	// is producing media
	StartPipeline(ctx context.Context) error
	StopPipeline() error

	CreateOffer(ctx context.Context) (string, error)
	SetLocalDescription(sdp string) error
	SetRemoteDescription(desc Description) error
	AddCandidate(c Candidate) error

	// CreateDataChannel creates a channel on the current peer connection.
	// Channels do not survive a pipeline restart.
	CreateDataChannel(label string) (DataChannel, error)

	SetHandlers(h EngineHandlers)
}

// DisplayController switches the host display geometry
type DisplayController interface {
	// SwitchTo returns once the new mode is active, or with an error
	SwitchTo(ctx context.Context, width, height int) error
	RestoreOriginal(ctx context.Context) error
}

// Signaler sends messages to the relay. signal.Link satisfies it.
type Signaler interface {
	Send(msg signal.Message) error
}

// PointerCapture streams pointer frames on the attached channel
type PointerCapture interface {
	Attach(dc DataChannel)
	Detach()
}
