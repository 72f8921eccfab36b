package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomaslejdung/deskcast/pkg/session"
)

func TestParseFlags(t *testing.T) {
	assert.Equal(t, CodecVP8, ParseCodecFlag("anything"))
	assert.Equal(t, CodecH264, ParseCodecFlag("AVC"))
	assert.Equal(t, CodecVP9, ParseCodecFlag("vp9"))

	assert.Equal(t, 500, ParseQualityFlag("lo"))
	assert.Equal(t, 1500, ParseQualityFlag("Medium"))
	assert.Equal(t, 2500, ParseQualityFlag("2500"))
	assert.Equal(t, 3000, ParseQualityFlag("bogus"))

	assert.Equal(t, 60, ParseFPSFlag("60"))
	assert.Equal(t, DefaultFPS, ParseFPSFlag("0"))
	assert.Equal(t, DefaultFPS, ParseFPSFlag("fast"))
}

func TestBuildPipeline(t *testing.T) {
	p := BuildPipeline(PipelineOptions{
		Display: ":1",
		Codec:   *CodecByType(CodecVP8),
		Bitrate: 3000,
		FPS:     30,
		Port:    5004,
	})
	assert.True(t, strings.HasPrefix(p, "ximagesrc use-damage=false show-pointer=false display-name=:1 ! "))
	assert.Contains(t, p, "video/x-raw,framerate=30/1")
	assert.Contains(t, p, "vp8enc")
	assert.Contains(t, p, "target-bitrate=3000000")
	assert.Contains(t, p, "rtpvp8pay")
	assert.True(t, strings.HasSuffix(p, "udpsink host=127.0.0.1 port=5004 sync=false"))

	p = BuildPipeline(PipelineOptions{
		Source:  SourcePipeWire,
		Codec:   *CodecByType(CodecH264),
		Bitrate: 1500,
		FPS:     60,
		Port:    6000,
	})
	assert.True(t, strings.HasPrefix(p, "pipewiresrc"))
	assert.Contains(t, p, "x264enc tune=zerolatency speed-preset=ultrafast bitrate=1500 key-int-max=120")
	assert.Contains(t, p, "rtph264pay")
}

func TestICEConfiguration(t *testing.T) {
	cfg := ICEConfig{}.Configuration()
	assert.Len(t, cfg.ICEServers, len(defaultICEServers))
	assert.Equal(t, webrtc.ICETransportPolicyAll, cfg.ICETransportPolicy)

	cfg = ICEConfig{TURNServer: "turn:example.com:3478", TURNUser: "u", TURNPass: "p", ForceRelay: true}.Configuration()
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, "u", cfg.ICEServers[0].Username)
	assert.Equal(t, "p", cfg.ICEServers[0].Credential)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, cfg.ICETransportPolicy)
}

type recordingTrack struct {
	mu      sync.Mutex
	packets []uint16
}

func (r *recordingTrack) WriteRTP(p *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, p.SequenceNumber)
	return nil
}

func (r *recordingTrack) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func rtpPacket(seq uint16) []byte {
	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq, SSRC: 1234},
		Payload: []byte{0x10, 0x01, 0x02, 0x03},
	}
	b, _ := pkt.Marshal()
	return b
}

func TestPumpRTP(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	track := &recordingTrack{}
	ready := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		pumpRTP(conn, track, ready)
		close(finished)
	}()

	out, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()

	_, err = out.Write([]byte{0x00})
	require.NoError(t, err)
	_, err = out.Write(rtpPacket(7))
	require.NoError(t, err)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("pump never became ready")
	}
	assert.Equal(t, 1, track.count(), "non-RTP datagram skipped")

	conn.Close()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after close")
	}
}

type fakeProcess struct {
	done chan struct{}
	once sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (f *fakeProcess) Done() <-chan struct{} { return f.done }
func (f *fakeProcess) Stop()                 { f.once.Do(func() { close(f.done) }) }

var portRe = regexp.MustCompile(`port=(\d+)`)

// rtpLauncher pretends to be gst-launch by sending RTP to the pipeline's port
func rtpLauncher(t *testing.T) Launcher {
	return func(ctx context.Context, pipeline string) (Process, error) {
		m := portRe.FindStringSubmatch(pipeline)
		require.NotNil(t, m)
		port, _ := strconv.Atoi(m[1])

		proc := newFakeProcess()
		go func() {
			conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
			if err != nil {
				return
			}
			defer conn.Close()

			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for seq := uint16(0); ; seq++ {
				select {
				case <-proc.done:
					return
				case <-ticker.C:
					conn.Write(rtpPacket(seq))
				}
			}
		}()
		return proc, nil
	}
}

func TestEngineLifecycle(t *testing.T) {
	e, err := NewEngine(Config{Codec: CodecVP8, Launch: rtpLauncher(t)})
	require.NoError(t, err)
	e.SetHandlers(session.EngineHandlers{})

	_, err = e.CreateOffer(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.StartPipeline(ctx))

	dc, err := e.CreateDataChannel(session.PointerChannelLabel)
	require.NoError(t, err)
	assert.Equal(t, "cursor", dc.Label())
	assert.ErrorIs(t, dc.Send([]byte{1}), ErrChannelNotOpen)

	sdp, err := e.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Contains(t, sdp, "m=video")
	assert.Contains(t, sdp, "VP8/90000")
	assert.Contains(t, sdp, "m=application")
	require.NoError(t, e.SetLocalDescription(sdp))

	// a remote candidate before the answer is queued, not rejected
	mid := "0"
	assert.NoError(t, e.AddCandidate(session.Candidate{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
		SDPMid:    &mid,
	}))
	assert.Error(t, e.SetRemoteDescription(session.Description{Type: "bogus"}))

	require.NoError(t, e.StopPipeline())
	require.NoError(t, e.StopPipeline())
	_, err = e.CreateDataChannel("cursor")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestEngineFiltersSupersededCallbacks(t *testing.T) {
	e, err := NewEngine(Config{Codec: CodecVP9, Launch: rtpLauncher(t)})
	require.NoError(t, err)

	var mu sync.Mutex
	var states []session.ConnectivityState
	e.SetHandlers(session.EngineHandlers{
		OnConnectivityStateChanged: func(s session.ConnectivityState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.StartPipeline(ctx))
	first := e.epoch

	_, ok := e.current(first)
	assert.True(t, ok)

	require.NoError(t, e.StartPipeline(ctx))
	_, ok = e.current(first)
	assert.False(t, ok, "replaced run is filtered")

	require.NoError(t, e.StopPipeline())

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, session.StateClosed, "closing a run reports nothing")
}

func TestEngineStartFailures(t *testing.T) {
	exited := func(ctx context.Context, pipeline string) (Process, error) {
		p := newFakeProcess()
		p.Stop()
		return p, nil
	}
	e, err := NewEngine(Config{Codec: CodecH264, Launch: exited})
	require.NoError(t, err)
	assert.ErrorIs(t, e.StartPipeline(context.Background()), ErrPipelineNotReady)

	silent := func(ctx context.Context, pipeline string) (Process, error) {
		return newFakeProcess(), nil
	}
	e, err = NewEngine(Config{Codec: CodecVP8, Launch: silent})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.StartPipeline(ctx), ErrPipelineNotReady)
	_, err = e.live()
	assert.ErrorIs(t, err, ErrNotRunning, "failed start leaves nothing running")

	failing := func(ctx context.Context, pipeline string) (Process, error) {
		return nil, errors.New("gst-launch-1.0 not found")
	}
	e, err = NewEngine(Config{Codec: CodecVP8, Launch: failing})
	require.NoError(t, err)
	assert.Error(t, e.StartPipeline(context.Background()))

	_, err = NewEngine(Config{Codec: "av1"})
	assert.Error(t, err)
}
