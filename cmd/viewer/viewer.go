package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"github.com/tomaslejdung/deskcast/pkg/control"
	sig "github.com/tomaslejdung/deskcast/pkg/signal"
)

const logEvery = 60

var errHostGone = errors.New("host disconnected")

// viewer answers offers from the host. Relay messages are handled on the
// run goroutine; pion callbacks only send.
type viewer struct {
	link   sig.Link
	config webrtc.Configuration
	stay   bool

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	pending []webrtc.ICECandidateInit

	frames     atomic.Uint64
	dropped    atomic.Uint64
	candidates atomic.Uint64 // remote candidates applied
}

func newViewer(link sig.Link, config webrtc.Configuration, stay bool) *viewer {
	return &viewer{link: link, config: config, stay: stay}
}

func (v *viewer) run(ctx context.Context) error {
	for {
		select {
		case data, ok := <-v.link.Messages():
			if !ok {
				return errors.New("relay connection closed")
			}
			msg, err := sig.Parse(data)
			if err != nil {
				log.Printf("Invalid message: %v", err)
				continue
			}
			if err := v.handle(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (v *viewer) handle(msg sig.Message) error {
	switch msg.Type {
	case sig.TypeRegistered:
		log.Printf("Relay confirmed registration as %s", msg.Role)

	case sig.TypeOffer:
		if err := v.answer(msg.SDP); err != nil {
			log.Printf("Answer failed: %v", err)
		}

	case sig.TypeICECandidate:
		v.addCandidate(webrtc.ICECandidateInit{
			Candidate:     msg.Candidate,
			SDPMid:        msg.SDPMid,
			SDPMLineIndex: msg.SDPMLineIndex,
		})

	case sig.TypeHostDisconnected:
		log.Printf("Host disconnected")
		v.close()
		if !v.stay {
			return errHostGone
		}

	default:
		log.Printf("Ignoring message type %q", msg.Type)
	}
	return nil
}

// answer replaces any previous connection with one answering sdp.
// Candidates queued before the offer are applied once it is answered.
func (v *viewer) answer(sdp string) error {
	v.dropPeer()

	pc, err := webrtc.NewPeerConnection(v.config)
	if err != nil {
		return err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ci := c.ToJSON()
		if err := v.link.Send(sig.ICECandidate(ci.Candidate, ci.SDPMid, ci.SDPMLineIndex)); err != nil {
			log.Printf("Send candidate: %v", err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("Connection state: %s", s)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("Receiving %s track %s", track.Codec().MimeType, track.ID())
		go drainTrack(track)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Printf("Data channel %q opened", dc.Label())
		dc.OnMessage(func(m webrtc.DataChannelMessage) {
			v.handleFrame(m.Data)
		})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		pc.Close()
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return err
	}

	v.mu.Lock()
	v.pc = pc
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	for _, c := range pending {
		v.apply(pc, c)
	}

	log.Printf("Sending answer")
	return v.link.Send(sig.Message{Type: sig.TypeAnswer, SDP: answer.SDP})
}

// addCandidate applies c, or queues it until an offer has been answered
func (v *viewer) addCandidate(c webrtc.ICECandidateInit) {
	v.mu.Lock()
	pc := v.pc
	if pc == nil {
		v.pending = append(v.pending, c)
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	v.apply(pc, c)
}

func (v *viewer) apply(pc *webrtc.PeerConnection, c webrtc.ICECandidateInit) {
	if err := pc.AddICECandidate(c); err != nil {
		log.Printf("Add candidate: %v", err)
		return
	}
	v.candidates.Add(1)
}

// handleFrame decodes one pointer frame. Malformed frames are dropped.
func (v *viewer) handleFrame(data []byte) {
	x, y, err := control.Decode(data)
	if err != nil {
		v.dropped.Add(1)
		log.Printf("Dropping pointer frame: %v", err)
		return
	}
	if n := v.frames.Add(1); n%logEvery == 1 {
		log.Printf("Pointer at (%.3f, %.3f) [%d frames]", x, y, n)
	}
}

// close drops the connection and any queued candidates
func (v *viewer) close() {
	v.mu.Lock()
	v.pending = nil
	v.mu.Unlock()
	v.dropPeer()
}

// dropPeer closes the current connection, keeping queued candidates
func (v *viewer) dropPeer() {
	v.mu.Lock()
	pc := v.pc
	v.pc = nil
	v.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
