// Package media is the host's media engine: a GStreamer capture pipeline
// feeding a pion peer connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/tomaslejdung/deskcast/pkg/session"
)

var (
	ErrPipelineNotReady = errors.New("capture pipeline not ready")
	ErrNotRunning       = errors.New("pipeline not running")
	ErrChannelNotOpen   = errors.New("data channel not open")
)

// Config configures the engine
type Config struct {
	ICE     ICEConfig
	Codec   CodecType
	Bitrate int // kbps
	FPS     int
	Source  string // SourceXImage or SourcePipeWire
	Display string

	// Launch starts the capture process; defaults to LaunchGst
	Launch Launcher
}

// Engine owns one peer connection and capture process per pipeline run.
// Callbacks from a connection that has since been replaced are dropped.
type Engine struct {
	cfg    Config
	codec  CodecInfo
	rtcCfg webrtc.Configuration
	api    *webrtc.API

	mu       sync.Mutex
	run      *pipelineRun
	epoch    uint64
	handlers session.EngineHandlers
}

// pipelineRun is the set of resources created by one StartPipeline call
type pipelineRun struct {
	epoch   uint64
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticRTP
	conn    net.PacketConn
	proc    Process
	pending []webrtc.ICECandidateInit
}

// NewEngine creates an engine. No pipeline runs until StartPipeline.
func NewEngine(cfg Config) (*Engine, error) {
	codec := CodecByType(cfg.Codec)
	if codec == nil {
		return nil, fmt.Errorf("unsupported codec %q", cfg.Codec)
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = QualityPresets[DefaultQualityIndex()].Bitrate
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.Launch == nil {
		cfg.Launch = LaunchGst
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    codec.MimeType,
			ClockRate:   codec.ClockRate,
			SDPFmtpLine: codec.FmtpLine,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register codec: %w", err)
	}

	return &Engine{
		cfg:    cfg,
		codec:  *codec,
		rtcCfg: cfg.ICE.Configuration(),
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
	}, nil
}

// SetHandlers registers the session callbacks
func (e *Engine) SetHandlers(h session.EngineHandlers) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = h
}

// current returns the handlers if epoch is still the live run
func (e *Engine) current(epoch uint64) (session.EngineHandlers, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil || e.run.epoch != epoch {
		return session.EngineHandlers{}, false
	}
	return e.handlers, true
}

// StartPipeline creates a fresh peer connection and capture process, and
// returns once the first RTP packet has reached the track
func (e *Engine) StartPipeline(ctx context.Context) error {
	e.StopPipeline()

	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.mu.Unlock()

	pc, err := e.api.NewPeerConnection(e.rtcCfg)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:    e.codec.MimeType,
		ClockRate:   e.codec.ClockRate,
		SDPFmtpLine: e.codec.FmtpLine,
	}, "video0", "deskcast")
	if err != nil {
		pc.Close()
		return fmt.Errorf("create track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return fmt.Errorf("add track: %w", err)
	}
	go drainRTCP(sender)

	e.wireCallbacks(pc, epoch)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		pc.Close()
		return fmt.Errorf("listen for RTP: %w", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	pipeline := BuildPipeline(PipelineOptions{
		Source:  e.cfg.Source,
		Display: e.cfg.Display,
		Codec:   e.codec,
		Bitrate: e.cfg.Bitrate,
		FPS:     e.cfg.FPS,
		Port:    port,
	})
	log.Printf("Media: pipeline %s", pipeline)

	proc, err := e.cfg.Launch(ctx, pipeline)
	if err != nil {
		conn.Close()
		pc.Close()
		return err
	}

	run := &pipelineRun{epoch: epoch, pc: pc, track: track, conn: conn, proc: proc}
	e.mu.Lock()
	e.run = run
	e.mu.Unlock()

	ready := make(chan struct{})
	go pumpRTP(conn, track, ready)

	select {
	case <-ready:
		log.Printf("Media: pipeline producing RTP on port %d", port)
		return nil
	case <-proc.Done():
		e.StopPipeline()
		return fmt.Errorf("%w: capture process exited", ErrPipelineNotReady)
	case <-ctx.Done():
		e.StopPipeline()
		return fmt.Errorf("%w: %v", ErrPipelineNotReady, ctx.Err())
	}
}

func (e *Engine) wireCallbacks(pc *webrtc.PeerConnection, epoch uint64) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		h, ok := e.current(epoch)
		if !ok || h.OnCandidate == nil {
			return
		}
		ci := c.ToJSON()
		h.OnCandidate(session.Candidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		h, ok := e.current(epoch)
		if !ok || h.OnConnectivityStateChanged == nil {
			return
		}
		h.OnConnectivityStateChanged(session.ConnectivityState(s.String()))
	})
}

// StopPipeline tears down the current run. Safe to call when nothing runs.
func (e *Engine) StopPipeline() error {
	e.mu.Lock()
	run := e.run
	e.run = nil
	e.mu.Unlock()

	if run == nil {
		return nil
	}

	// closing fires callbacks, which are already filtered out
	run.proc.Stop()
	run.conn.Close()
	if err := run.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	log.Printf("Media: pipeline stopped")
	return nil
}

func (e *Engine) live() (*pipelineRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil, ErrNotRunning
	}
	return e.run, nil
}

// CreateOffer creates an offer on the current connection
func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	run, err := e.live()
	if err != nil {
		return "", err
	}
	offer, err := run.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (e *Engine) SetLocalDescription(sdp string) error {
	run, err := e.live()
	if err != nil {
		return err
	}
	return run.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

// SetRemoteDescription applies desc and then any candidates that arrived
// before it
func (e *Engine) SetRemoteDescription(desc session.Description) error {
	run, err := e.live()
	if err != nil {
		return err
	}

	var sdpType webrtc.SDPType
	switch desc.Type {
	case "offer":
		sdpType = webrtc.SDPTypeOffer
	case "answer":
		sdpType = webrtc.SDPTypeAnswer
	case "pranswer":
		sdpType = webrtc.SDPTypePranswer
	default:
		return fmt.Errorf("unknown description type %q", desc.Type)
	}
	if err := run.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return err
	}

	e.mu.Lock()
	pending := run.pending
	run.pending = nil
	e.mu.Unlock()

	for _, c := range pending {
		if err := run.pc.AddICECandidate(c); err != nil {
			log.Printf("Media: add queued candidate: %v", err)
		}
	}
	return nil
}

// AddCandidate adds a remote candidate, queueing it until the remote
// description is known
func (e *Engine) AddCandidate(c session.Candidate) error {
	run, err := e.live()
	if err != nil {
		return err
	}

	ci := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}

	if run.pc.RemoteDescription() == nil {
		e.mu.Lock()
		run.pending = append(run.pending, ci)
		e.mu.Unlock()
		return nil
	}
	return run.pc.AddICECandidate(ci)
}

// CreateDataChannel creates an ordered channel that never retransmits
func (e *Engine) CreateDataChannel(label string) (session.DataChannel, error) {
	run, err := e.live()
	if err != nil {
		return nil, err
	}

	ordered := true
	maxRetransmits := uint16(0)
	dc, err := run.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return nil, err
	}

	ch := &dataChannel{dc: dc}
	epoch := run.epoch
	dc.OnOpen(func() {
		h, ok := e.current(epoch)
		if !ok || h.OnDataChannelOpen == nil {
			return
		}
		h.OnDataChannelOpen(ch)
	})
	return ch, nil
}

// drainRTCP reads incoming RTCP so interceptors keep working
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string {
	return d.dc.Label()
}

func (d *dataChannel) Send(data []byte) error {
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return d.dc.Send(data)
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}
