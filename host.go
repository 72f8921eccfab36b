package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tomaslejdung/deskcast/pkg/display"
	"github.com/tomaslejdung/deskcast/pkg/media"
	"github.com/tomaslejdung/deskcast/pkg/pointer"
	"github.com/tomaslejdung/deskcast/pkg/session"
	sig "github.com/tomaslejdung/deskcast/pkg/signal"
)

const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
)

var errNoRelay = errors.New("not connected to relay")

// LinkState describes the host's relay connection
type LinkState struct {
	Connected bool
	Remote    bool
	URL       string // where viewers connect
	Attempt   int    // reconnect attempt, 0 when connected
	LastError string
}

// linkSignaler sends through whichever relay link is current
type linkSignaler struct {
	mu   sync.Mutex
	link sig.Link
}

func (s *linkSignaler) set(link sig.Link) {
	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
}

func (s *linkSignaler) Send(msg sig.Message) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return errNoRelay
	}
	return link.Send(msg)
}

// unavailableSource stands in when no X display can be opened
type unavailableSource struct{ err error }

func (u unavailableSource) Position() (int, int, error)   { return 0, 0, u.err }
func (u unavailableSource) ScreenSize() (int, int, error) { return 0, 0, u.err }

// Host wires the relay link, media engine, display and pointer capture to
// one session coordinator
type Host struct {
	config   Config
	coord    *session.Coordinator
	capture  *pointer.Capture
	x11      *pointer.X11Source
	signaler *linkSignaler
	listener net.Listener // embedded relay, nil when using a remote one
	server   *sig.Server

	mu          sync.Mutex
	linkState   LinkState
	onLinkState func(LinkState)
}

// NewHost builds the host. The embedded relay's port is bound here so a
// bind failure surfaces before anything else starts.
func NewHost(config Config) (*Host, error) {
	engine, err := media.NewEngine(config.Engine())
	if err != nil {
		return nil, err
	}

	if err := display.Available(); err != nil {
		log.Printf("Host: %v; display switching will fail", err)
	}

	h := &Host{config: config, signaler: &linkSignaler{}}

	var source pointer.Source
	if x11, err := pointer.OpenX11(config.Display); err != nil {
		log.Printf("Host: pointer capture unavailable: %v", err)
		source = unavailableSource{err: err}
	} else {
		h.x11 = x11
		source = x11
	}
	h.capture = pointer.NewCapture(source, config.PointerHz)

	h.coord = session.NewCoordinator(session.Config{
		Engine:   engine,
		Display:  display.NewXRandR(nil, config.Refresh),
		Signaler: h.signaler,
		Pointer:  h.capture,
	})

	if config.Signal == "" {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
		if err != nil {
			return nil, fmt.Errorf("bind relay port %d: %w", config.Port, err)
		}
		h.listener = ln
		h.server = sig.NewServer()
	}
	return h, nil
}

// Coordinator returns the session coordinator
func (h *Host) Coordinator() *session.Coordinator {
	return h.coord
}

// FramesSent returns the number of pointer frames sent
func (h *Host) FramesSent() uint64 {
	return h.capture.FramesSent()
}

// SetLinkStateHandler sets a callback for relay connection changes
func (h *Host) SetLinkStateHandler(fn func(LinkState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLinkState = fn
}

// LinkState returns the current relay connection state
func (h *Host) LinkState() LinkState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linkState
}

func (h *Host) updateLink(fn func(*LinkState)) {
	h.mu.Lock()
	fn(&h.linkState)
	state, cb := h.linkState, h.onLinkState
	h.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

// Run starts every component and blocks until ctx is cancelled. The
// display is restored before it returns.
func (h *Host) Run(ctx context.Context) error {
	h.capture.Start()
	defer h.capture.Stop()
	if h.x11 != nil {
		defer h.x11.Close()
	}

	coordDone := make(chan struct{})
	go func() {
		h.coord.Run(ctx)
		close(coordDone)
	}()

	if h.server != nil {
		go func() {
			if err := h.server.Serve(ctx, h.listener); err != nil {
				log.Printf("Host: relay stopped: %v", err)
			}
		}()
	}

	h.maintainLink(ctx)

	h.coord.Stop()
	<-coordDone
	return nil
}

// connect opens a link to the relay and registers as host
func (h *Host) connect(ctx context.Context) (sig.Link, error) {
	register := sig.Register(sig.RoleHost, 0, 0)
	if h.server != nil {
		return h.server.Relay().AttachLocal(register)
	}
	return sig.DialLink(ctx, h.config.Signal, register)
}

func (h *Host) viewerURL() string {
	if h.server != nil {
		return fmt.Sprintf("ws://%s:%d/ws", sig.LocalIP(), h.config.Port)
	}
	return sig.NormalizeURL(h.config.Signal)
}

// maintainLink keeps a relay link open, reconnecting with exponential
// backoff, and feeds its messages to the coordinator
func (h *Host) maintainLink(ctx context.Context) {
	delay := reconnectInitialDelay
	attempt := 0

	for ctx.Err() == nil {
		link, err := h.connect(ctx)
		if err != nil {
			attempt++
			log.Printf("Host: relay connect failed (attempt %d): %v", attempt, err)
			h.updateLink(func(s *LinkState) {
				s.Connected = false
				s.Attempt = attempt
				s.LastError = err.Error()
			})

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		delay = reconnectInitialDelay
		attempt = 0
		h.signaler.set(link)
		h.updateLink(func(s *LinkState) {
			*s = LinkState{Connected: true, Remote: h.server == nil, URL: h.viewerURL()}
		})
		log.Printf("Host: connected to relay, viewers connect to %s", h.viewerURL())

		h.pump(ctx, link)

		h.signaler.set(nil)
		link.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("Host: relay connection lost, reconnecting")
		h.updateLink(func(s *LinkState) {
			s.Connected = false
			s.LastError = "relay connection lost"
		})
	}
}

// pump forwards relay messages until the link closes or ctx ends
func (h *Host) pump(ctx context.Context, link sig.Link) {
	for {
		select {
		case data, ok := <-link.Messages():
			if !ok {
				return
			}
			msg, err := sig.Parse(data)
			if err != nil {
				log.Printf("Host: invalid relay message: %v", err)
				continue
			}
			h.coord.HandleSignal(msg)
		case <-ctx.Done():
			return
		}
	}
}
