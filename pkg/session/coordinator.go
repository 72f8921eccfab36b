// Package session drives one host-side streaming session at a time: display
// switch, pipeline restart, offer/answer and teardown.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomaslejdung/deskcast/pkg/signal"
)

const (
	// PointerChannelLabel is the label of the data channel carrying pointer frames
	PointerChannelLabel = "cursor"

	DefaultSwitchTimeout = 5 * time.Second
	DefaultReadyTimeout  = 10 * time.Second

	eventBufferSize = 64
)

// Config holds the coordinator's collaborators
type Config struct {
	Engine   MediaEngine
	Display  DisplayController
	Signaler Signaler
	Pointer  PointerCapture

	SwitchTimeout time.Duration // bound on DisplayController.SwitchTo
	ReadyTimeout  time.Duration // bound on MediaEngine.StartPipeline
}

// Status is a snapshot of the coordinator for display purposes
type Status struct {
	State       State
	SessionID   string
	Width       int
	Height      int
	ChannelOpen bool
	LastError   error
}

// Coordinator is the host-side session state machine. All state is owned by
// the goroutine running Run; collaborators and relay messages post events.
type Coordinator struct {
	engine   MediaEngine
	display  DisplayController
	signaler Signaler
	pointer  PointerCapture

	switchTimeout time.Duration
	readyTimeout  time.Duration

	events  chan func()
	worker  *worker
	quit    chan struct{}
	stopped chan struct{} // closed when the event loop stops accepting events
	done    chan struct{} // closed when Run has returned

	runMu        sync.Mutex
	started      bool // Run has begun
	stoppedEarly bool // Stop ran before Run
	stopOnce     sync.Once

	// owned by the Run goroutine
	state       State
	generation  uint64
	sessionID   string
	width       int
	height      int
	channel     DataChannel
	channelOpen bool
	pending     []Candidate // local candidates gathered before the offer went out
	lastErr     error
	sessionCtx  context.Context
	cancel      context.CancelFunc
	base        context.Context

	statusMu sync.Mutex
	status   Status
	onStatus func(Status)
}

// NewCoordinator creates an idle coordinator
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.SwitchTimeout <= 0 {
		cfg.SwitchTimeout = DefaultSwitchTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}

	c := &Coordinator{
		engine:        cfg.Engine,
		display:       cfg.Display,
		signaler:      cfg.Signaler,
		pointer:       cfg.Pointer,
		switchTimeout: cfg.SwitchTimeout,
		readyTimeout:  cfg.ReadyTimeout,
		events:        make(chan func(), eventBufferSize),
		worker:        newWorker(),
		quit:          make(chan struct{}),
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
		status:        Status{State: Idle},
	}

	c.engine.SetHandlers(EngineHandlers{
		OnCandidate: func(cand Candidate) {
			c.post(func() { c.handleLocalCandidate(cand) })
		},
		OnDataChannelOpen: func(dc DataChannel) {
			c.post(func() { c.handleChannelOpen(dc) })
		},
		OnConnectivityStateChanged: func(state ConnectivityState) {
			c.post(func() { c.handleConnectivity(state) })
		},
	})
	return c
}

// SetStatusHandler sets a callback invoked after every state change.
// The callback runs on the coordinator goroutine and must not block.
func (c *Coordinator) SetStatusHandler(fn func(Status)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.onStatus = fn
}

// Status returns the latest snapshot
func (c *Coordinator) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// HandleSignal posts one relay message to the coordinator
func (c *Coordinator) HandleSignal(msg signal.Message) {
	c.post(func() { c.handleSignal(msg) })
}

// EndSession tears down the active session as if the client had left
func (c *Coordinator) EndSession() {
	c.post(func() { c.teardown("ended by host") })
}

// Run processes events until ctx is cancelled or Stop is called, then
// performs the shutdown cleanup. It must be called once. After an early
// Stop it returns immediately.
func (c *Coordinator) Run(ctx context.Context) {
	c.runMu.Lock()
	if c.stoppedEarly {
		c.runMu.Unlock()
		return
	}
	c.started = true
	c.runMu.Unlock()
	defer close(c.done)

	base, cancel := context.WithCancel(ctx)
	defer cancel()
	c.base = base

	go c.worker.run()

	for {
		select {
		case fn := <-c.events:
			fn()
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

// Stop ends Run and waits for the shutdown cleanup to finish. Called
// before Run, it stops the pipeline and restores the display itself.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	started, early := c.started, !c.started && !c.stoppedEarly
	if !started {
		c.stoppedEarly = true
	}
	c.runMu.Unlock()

	c.stopOnce.Do(func() { close(c.quit) })
	switch {
	case started:
		<-c.done
	case early:
		close(c.stopped)
		log.Printf("Session: stopped before run")
		c.cleanup()
	}
}

// post hands fn to the event loop. Events posted after shutdown are dropped.
func (c *Coordinator) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.stopped:
	}
}

func (c *Coordinator) handleSignal(msg signal.Message) {
	switch msg.Type {
	case signal.TypeClientConnected:
		width, height := msg.Geometry()
		c.startSession(width, height)

	case signal.TypeClientDisconnected:
		log.Printf("Session: client disconnected")
		c.teardown("client disconnected")

	case signal.TypeAnswer, signal.TypeOffer:
		c.applyRemoteDescription(Description{Type: msg.Type, SDP: msg.SDP})

	case signal.TypeICECandidate:
		c.applyRemoteCandidate(Candidate{
			Candidate:     msg.Candidate,
			SDPMid:        msg.SDPMid,
			SDPMLineIndex: msg.SDPMLineIndex,
		})

	case signal.TypeRegistered:
		log.Printf("Session: registered with relay as %s", msg.Role)

	case signal.TypeHostDisconnected:
		log.Printf("Session: unexpected host_disconnected on host side")

	default:
		log.Printf("Session: ignoring message type %q", msg.Type)
	}
}

// startSession discards any in-flight session and begins a new one
func (c *Coordinator) startSession(width, height int) {
	if c.state.Active() {
		log.Printf("Session: new client replaces session %s", c.sessionID)
		c.discard()
	}

	c.generation++
	c.sessionID = uuid.NewString()
	c.width, c.height = width, height
	c.lastErr = nil
	c.setState(Preparing)
	log.Printf("Session: %s started for %dx%d client", c.sessionID, width, height)

	ctx, cancel := context.WithCancel(c.base)
	c.sessionCtx, c.cancel = ctx, cancel
	gen := c.generation

	c.worker.push(func() { c.prepare(ctx, gen, width, height) })
}

// prepare runs on the worker: switch the display, restart the pipeline and
// create the pointer channel, in that order.
func (c *Coordinator) prepare(ctx context.Context, gen uint64, width, height int) {
	if ctx.Err() != nil {
		return
	}

	var switchErr error
	switchCtx, cancel := context.WithTimeout(ctx, c.switchTimeout)
	if err := c.display.SwitchTo(switchCtx, width, height); err != nil {
		switchErr = fmt.Errorf("%w: %v", ErrDisplaySwitchFailed, err)
	}
	cancel()

	if ctx.Err() != nil {
		// superseded mid-switch; the result is not used
		return
	}
	if switchErr != nil {
		log.Printf("Session: %v, continuing at current geometry", switchErr)
	}

	if err := c.engine.StopPipeline(); err != nil {
		log.Printf("Session: stop pipeline: %v", err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	err := c.engine.StartPipeline(readyCtx)
	cancel()
	if err != nil {
		c.post(func() { c.prepared(gen, nil, switchErr, fmt.Errorf("%w: start pipeline: %v", ErrEngineOperation, err)) })
		return
	}

	dc, err := c.engine.CreateDataChannel(PointerChannelLabel)
	if err != nil {
		err = fmt.Errorf("%w: create data channel: %v", ErrEngineOperation, err)
	}
	c.post(func() { c.prepared(gen, dc, switchErr, err) })
}

func (c *Coordinator) prepared(gen uint64, dc DataChannel, switchErr, err error) {
	if gen != c.generation || c.state != Preparing {
		if dc != nil {
			dc.Close()
		}
		return
	}

	if switchErr != nil {
		c.lastErr = switchErr
	}
	if err != nil {
		log.Printf("Session: %v", err)
		c.lastErr = err
		// negotiation stalls until the next client_connected
		c.setState(OfferPending)
		return
	}

	c.channel = dc
	c.channelOpen = false
	c.setState(OfferPending)

	ctx := c.sessionContext()
	c.worker.push(func() { c.createOffer(ctx, gen) })
}

// createOffer runs on the worker
func (c *Coordinator) createOffer(ctx context.Context, gen uint64) {
	if ctx.Err() != nil {
		return
	}

	sdp, err := c.engine.CreateOffer(ctx)
	if err == nil {
		err = c.engine.SetLocalDescription(sdp)
	}
	if err != nil {
		err = fmt.Errorf("%w: create offer: %v", ErrEngineOperation, err)
	}
	c.post(func() { c.offered(gen, sdp, err) })
}

func (c *Coordinator) offered(gen uint64, sdp string, err error) {
	if gen != c.generation || c.state != OfferPending {
		return
	}
	if err != nil {
		log.Printf("Session: %v", err)
		c.lastErr = err
		c.publish()
		return
	}

	if err := c.signaler.Send(signal.Message{Type: signal.TypeOffer, SDP: sdp}); err != nil {
		log.Printf("Session: send offer: %v", err)
		c.lastErr = err
	}
	log.Printf("Session: offer sent")
	c.setState(Negotiating)

	for _, cand := range c.pending {
		c.sendCandidate(cand)
	}
	c.pending = nil
}

func (c *Coordinator) applyRemoteDescription(desc Description) {
	if !c.state.Active() {
		log.Printf("Session: ignoring %s while %s", desc.Type, c.state)
		return
	}

	ctx := c.sessionContext()
	c.worker.push(func() {
		if ctx.Err() != nil {
			return
		}
		if err := c.engine.SetRemoteDescription(desc); err != nil {
			log.Printf("Session: %v: set remote %s: %v", ErrEngineOperation, desc.Type, err)
		}
	})
}

func (c *Coordinator) applyRemoteCandidate(cand Candidate) {
	if !c.state.Active() {
		log.Printf("Session: ignoring remote candidate while %s", c.state)
		return
	}

	ctx := c.sessionContext()
	c.worker.push(func() {
		if ctx.Err() != nil {
			return
		}
		if err := c.engine.AddCandidate(cand); err != nil {
			log.Printf("Session: %v: add candidate: %v", ErrEngineOperation, err)
		}
	})
}

func (c *Coordinator) handleLocalCandidate(cand Candidate) {
	switch c.state {
	case OfferPending:
		c.pending = append(c.pending, cand)
	case Negotiating, Connected:
		c.sendCandidate(cand)
	}
}

func (c *Coordinator) sendCandidate(cand Candidate) {
	msg := signal.ICECandidate(cand.Candidate, cand.SDPMid, cand.SDPMLineIndex)
	if err := c.signaler.Send(msg); err != nil {
		log.Printf("Session: send candidate: %v", err)
	}
}

func (c *Coordinator) handleChannelOpen(dc DataChannel) {
	if c.channel == nil || dc != c.channel || !c.state.Active() {
		log.Printf("Session: ignoring stale data channel %q", dc.Label())
		return
	}
	log.Printf("Session: data channel %q open", dc.Label())
	c.channelOpen = true
	c.pointer.Attach(dc)
	c.publish()
}

func (c *Coordinator) handleConnectivity(state ConnectivityState) {
	log.Printf("Session: connection state %s", state)
	switch {
	case state == StateConnected:
		if c.state == OfferPending || c.state == Negotiating {
			c.setState(Connected)
		}
	case state.Terminal():
		c.teardown("connection " + string(state))
	}
}

// teardown ends the active session and queues one display restore. It is a
// no-op when no session is active.
func (c *Coordinator) teardown(reason string) {
	if !c.state.Active() {
		return
	}
	log.Printf("Session: %s ended: %s", c.sessionID, reason)

	c.discard()
	c.setState(Restoring)

	c.worker.push(func() {
		if err := c.engine.StopPipeline(); err != nil {
			log.Printf("Session: stop pipeline: %v", err)
		}
		c.restore()
	})

	c.sessionID = ""
	c.setState(Idle)
}

// discard drops the current session's resources without restoring
func (c *Coordinator) discard() {
	c.pointer.Detach()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.sessionCtx = nil
	}
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.channelOpen = false
	c.pending = nil
	c.generation++
}

func (c *Coordinator) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), c.switchTimeout)
	defer cancel()
	if err := c.display.RestoreOriginal(ctx); err != nil {
		log.Printf("Session: restore display: %v", err)
	}
}

// cleanup stops the pipeline and restores the display
func (c *Coordinator) cleanup() {
	if err := c.engine.StopPipeline(); err != nil {
		log.Printf("Session: stop pipeline: %v", err)
	}
	c.restore()
}

// shutdown runs on the Run goroutine once the loop exits
func (c *Coordinator) shutdown() {
	close(c.stopped)
	log.Printf("Session: shutting down")

	c.discard()
	c.worker.push(c.cleanup)
	c.worker.stop()

	c.sessionID = ""
	c.setState(Idle)
}

// sessionContext returns the current session's context, or an already
// cancelled one when no session is active
func (c *Coordinator) sessionContext() context.Context {
	if c.sessionCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.sessionCtx
}

func (c *Coordinator) setState(s State) {
	if c.state != s {
		log.Printf("Session: %s -> %s", c.state, s)
	}
	c.state = s
	c.publish()
}

func (c *Coordinator) publish() {
	c.statusMu.Lock()
	c.status = Status{
		State:       c.state,
		SessionID:   c.sessionID,
		Width:       c.width,
		Height:      c.height,
		ChannelOpen: c.channelOpen,
		LastError:   c.lastErr,
	}
	status, fn := c.status, c.onStatus
	c.statusMu.Unlock()

	if fn != nil {
		fn(status)
	}
}
