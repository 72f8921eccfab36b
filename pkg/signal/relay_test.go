package signal

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	name string
	mu   sync.Mutex
	got  [][]byte
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, append([]byte(nil), data...))
	return nil
}

func (p *fakePeer) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.got...)
}

func (p *fakePeer) types(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, f := range p.frames() {
		msg, err := Parse(f)
		require.NoError(t, err)
		types = append(types, msg.Type)
	}
	return types
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.got = nil
	p.mu.Unlock()
}

func newPeer(r *Relay, name string) *fakePeer {
	p := &fakePeer{name: name}
	r.Open(p)
	return p
}

func send(t *testing.T, r *Relay, p Peer, raw string) {
	t.Helper()
	require.NoError(t, r.HandleMessage(p, []byte(raw)))
}

func TestRegisterReplies(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")

	send(t, r, host, `{"type":"register","role":"host"}`)

	require.Len(t, host.frames(), 1)
	assert.JSONEq(t, `{"type":"registered","role":"host"}`, string(host.frames()[0]))
	assert.Equal(t, Status{Host: true}, r.Status())
}

func TestClientRegistrationNotifiesHost(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	client := newPeer(r, "client")

	send(t, r, host, `{"type":"register","role":"host"}`)
	host.reset()
	send(t, r, client, `{"type":"register","role":"client","width":2560,"height":1440}`)

	require.Len(t, host.frames(), 1)
	assert.JSONEq(t, `{"type":"client_connected","width":2560,"height":1440}`, string(host.frames()[0]))
	assert.Equal(t, []string{TypeRegistered}, client.types(t))
}

func TestClientRegistrationDefaultGeometry(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	client := newPeer(r, "client")

	send(t, r, host, `{"type":"register","role":"host"}`)
	host.reset()
	send(t, r, client, `{"type":"register","role":"client"}`)

	require.Len(t, host.frames(), 1)
	assert.JSONEq(t, `{"type":"client_connected","width":1920,"height":1080}`, string(host.frames()[0]))
}

func TestClientBeforeHostIsNotReplayed(t *testing.T) {
	r := NewRelay()
	client := newPeer(r, "client")
	host := newPeer(r, "host")

	send(t, r, client, `{"type":"register","role":"client"}`)
	send(t, r, host, `{"type":"register","role":"host"}`)

	// the relay does not buffer: the host only hears about clients registering after it
	assert.Equal(t, []string{TypeRegistered}, host.types(t))
}

func TestLastRegistrationWins(t *testing.T) {
	r := NewRelay()
	first := newPeer(r, "first")
	second := newPeer(r, "second")
	client := newPeer(r, "client")

	send(t, r, first, `{"type":"register","role":"host"}`)
	send(t, r, second, `{"type":"register","role":"host"}`)
	assert.Same(t, second, r.Holder(RoleHost))

	// the evicted holder is not told
	assert.Equal(t, []string{TypeRegistered}, first.types(t))

	send(t, r, client, `{"type":"register","role":"client"}`)
	assert.Equal(t, []string{TypeRegistered}, first.types(t))
	assert.Equal(t, []string{TypeRegistered, TypeClientConnected}, second.types(t))

	// closing the orphan neither clears the slot nor notifies anybody
	client.reset()
	r.Close(first)
	assert.Same(t, second, r.Holder(RoleHost))
	assert.Empty(t, client.frames())
}

func TestReRegisterUnderOtherRoleReleasesSlot(t *testing.T) {
	r := NewRelay()
	p := newPeer(r, "p")

	send(t, r, p, `{"type":"register","role":"host"}`)
	send(t, r, p, `{"type":"register","role":"client"}`)

	assert.Nil(t, r.Holder(RoleHost))
	assert.Same(t, p, r.Holder(RoleClient))
}

func TestUnknownRoleIsAcknowledgedOnly(t *testing.T) {
	r := NewRelay()
	p := newPeer(r, "p")

	send(t, r, p, `{"type":"register","role":"admin"}`)

	assert.Equal(t, Status{}, r.Status())
	require.Len(t, p.frames(), 1)
	assert.JSONEq(t, `{"type":"registered","role":"admin"}`, string(p.frames()[0]))
}

func TestForwardingIsVerbatimAndComplementary(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	client := newPeer(r, "client")
	send(t, r, host, `{"type":"register","role":"host"}`)
	send(t, r, client, `{"type":"register","role":"client"}`)
	host.reset()
	client.reset()

	offer := `{"type":"offer",   "sdp":"v=0\r\nA", "extra":{"kept":true}}`
	send(t, r, host, offer)
	require.Len(t, client.frames(), 1)
	assert.Equal(t, offer, string(client.frames()[0]))
	assert.Empty(t, host.frames())

	answer := `{"type":"answer","sdp":"B"}`
	send(t, r, client, answer)
	require.Len(t, host.frames(), 1)
	assert.Equal(t, answer, string(host.frames()[0]))

	cand := `{"type":"ice-candidate","candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}`
	send(t, r, client, cand)
	send(t, r, host, cand)
	assert.Equal(t, cand, string(host.frames()[1]))
	assert.Equal(t, cand, string(client.frames()[1]))
}

func TestForwardedPayloadFieldsAreNotDecoded(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	client := newPeer(r, "client")
	send(t, r, host, `{"type":"register","role":"host"}`)
	send(t, r, client, `{"type":"register","role":"client"}`)
	host.reset()
	client.reset()

	payloads := []string{
		`{"type":"ice-candidate","candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":-1}`,
		`{"type":"ice-candidate","candidate":"candidate:2","sdpMLineIndex":"0"}`,
		`{"type":"offer","sdp":{"text":"A"}}`,
		`{"type":"answer","sdp":null,"width":"wide"}`,
	}
	for _, raw := range payloads {
		send(t, r, host, raw)
	}

	got := client.frames()
	require.Len(t, got, len(payloads))
	for i, raw := range payloads {
		assert.Equal(t, raw, string(got[i]))
	}
}

func TestMalformedRegisterIsDropped(t *testing.T) {
	r := NewRelay()
	p := newPeer(r, "p")

	err := r.HandleMessage(p, []byte(`{"type":"register","role":"client","width":"wide"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.Empty(t, p.frames())
	assert.Nil(t, r.Holder(RoleClient))
}

func TestForwardWithoutTargetIsDropped(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	stranger := newPeer(r, "stranger")
	send(t, r, host, `{"type":"register","role":"host"}`)
	host.reset()

	send(t, r, host, `{"type":"offer","sdp":"A"}`)
	send(t, r, stranger, `{"type":"answer","sdp":"B"}`)

	assert.Empty(t, host.frames())
	assert.Empty(t, stranger.frames())
}

func TestMalformedAndUnknownMessages(t *testing.T) {
	r := NewRelay()
	p := newPeer(r, "p")

	err := r.HandleMessage(p, []byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	err = r.HandleMessage(p, []byte(`{"type":"renegotiate"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	assert.Empty(t, p.frames())
}

func TestCloseNotifiesOtherSlotOnce(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	client := newPeer(r, "client")
	send(t, r, host, `{"type":"register","role":"host"}`)
	send(t, r, client, `{"type":"register","role":"client"}`)
	client.reset()
	host.reset()

	r.Close(host)
	r.Close(host)

	assert.Equal(t, []string{TypeHostDisconnected}, client.types(t))
	assert.Equal(t, Status{Client: true}, r.Status())

	r.Close(client)
	assert.Empty(t, host.frames())
	assert.Equal(t, Status{}, r.Status())
}

func TestClientCloseNotifiesHost(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	client := newPeer(r, "client")
	send(t, r, host, `{"type":"register","role":"host"}`)
	send(t, r, client, `{"type":"register","role":"client"}`)
	host.reset()

	r.Close(client)
	assert.Equal(t, []string{TypeClientDisconnected}, host.types(t))
}

func TestCloseWithoutPartnerOrRegistration(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	idle := newPeer(r, "idle")
	send(t, r, host, `{"type":"register","role":"host"}`)
	host.reset()

	r.Close(idle)
	r.Close(host)

	assert.Empty(t, host.frames())
	assert.Empty(t, idle.frames())
	assert.Equal(t, Status{}, r.Status())
}

func TestConcurrentRegisterAndClose(t *testing.T) {
	r := NewRelay()
	host := newPeer(r, "host")
	send(t, r, host, `{"type":"register","role":"host"}`)
	host.reset()

	const n = 50
	clients := make([]*fakePeer, n)
	for i := range clients {
		clients[i] = newPeer(r, fmt.Sprintf("client-%d", i))
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *fakePeer) {
			defer wg.Done()
			r.HandleMessage(c, []byte(`{"type":"register","role":"client"}`))
			r.Close(c)
		}(c)
	}
	wg.Wait()

	assert.Nil(t, r.Holder(RoleClient))

	var connected, disconnected int
	for _, typ := range host.types(t) {
		switch typ {
		case TypeClientConnected:
			connected++
		case TypeClientDisconnected:
			disconnected++
		}
	}
	assert.Equal(t, n, connected)
	// only the connection holding the slot at close time produces a notice
	assert.LessOrEqual(t, disconnected, n)
	assert.GreaterOrEqual(t, disconnected, 1)
}

func TestMessageWireFormat(t *testing.T) {
	zero := uint16(0)
	mid := "0"
	data, err := Marshal(ICECandidate("candidate:1", &mid, &zero))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ice-candidate","candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`, string(data))

	data, err = json.Marshal(Register(RoleHost, 0, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"register","role":"host"}`, string(data))

	w, h := Message{}.Geometry()
	assert.Equal(t, DefaultWidth, w)
	assert.Equal(t, DefaultHeight, h)
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8080":              "ws://127.0.0.1:8080/ws",
		"http://10.0.0.2:8080/":       "ws://10.0.0.2:8080/ws",
		"https://relay.example.com":   "wss://relay.example.com/ws",
		"ws://localhost:8080/ws":      "ws://localhost:8080/ws",
		"wss://relay.example.com/sig": "wss://relay.example.com/sig",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in), in)
	}
}
