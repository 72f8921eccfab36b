package pointer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomaslejdung/deskcast/pkg/control"
)

type fakeSource struct {
	mu            sync.Mutex
	x, y          int
	width, height int
	err           error
	sizeCalls     int
}

func (f *fakeSource) Position() (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.x, f.y, f.err
}

func (f *fakeSource) ScreenSize() (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizeCalls++
	return f.width, f.height, f.err
}

func (f *fakeSource) move(x, y int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.x, f.y = x, y
}

type fakeChannel struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *fakeChannel) Label() string { return "cursor" }
func (f *fakeChannel) Close() error  { return nil }

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeChannel) last(t *testing.T) (float32, float32) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	x, y, err := control.Decode(f.frames[len(f.frames)-1])
	require.NoError(t, err)
	return x, y
}

func TestSampleSendsOnlyOnMovement(t *testing.T) {
	src := &fakeSource{x: 960, y: 540, width: 1920, height: 1080}
	c := NewCapture(src, 0)
	dc := &fakeChannel{}

	c.sample()
	assert.Equal(t, 0, dc.count(), "nothing attached")

	c.Attach(dc)
	c.sample()
	require.Equal(t, 1, dc.count(), "initial position on attach")
	x, y := dc.last(t)
	assert.Equal(t, float32(0.5), x)
	assert.Equal(t, float32(0.5), y)

	c.sample()
	c.sample()
	assert.Equal(t, 1, dc.count(), "no movement, no frame")

	src.move(1920, 0)
	c.sample()
	require.Equal(t, 2, dc.count())
	x, y = dc.last(t)
	assert.Equal(t, float32(1), x)
	assert.Equal(t, float32(0), y)
	assert.Equal(t, uint64(2), c.FramesSent())

	c.Detach()
	src.move(10, 10)
	c.sample()
	assert.Equal(t, 2, dc.count())
}

func TestAttachRereadsScreenSize(t *testing.T) {
	src := &fakeSource{x: 1280, y: 720, width: 2560, height: 1440}
	c := NewCapture(src, 0)

	first := &fakeChannel{}
	c.Attach(first)
	c.sample()
	c.sample()
	assert.Equal(t, 1, src.sizeCalls)

	src.mu.Lock()
	src.width, src.height = 1280, 720
	src.mu.Unlock()

	second := &fakeChannel{}
	c.Attach(second)
	c.sample()
	assert.Equal(t, 2, src.sizeCalls)
	require.Equal(t, 1, second.count(), "fresh channel gets the current position")
	x, y := second.last(t)
	assert.Equal(t, float32(1), x)
	assert.Equal(t, float32(1), y)
}

func TestSampleErrors(t *testing.T) {
	src := &fakeSource{width: 100, height: 100, err: errors.New("display gone")}
	c := NewCapture(src, 0)
	dc := &fakeChannel{}
	c.Attach(dc)

	c.sample()
	c.sample()
	assert.Equal(t, 0, dc.count())

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	c.sample()
	assert.Equal(t, 1, dc.count())

	dc.err = errors.New("channel closing")
	src.move(50, 50)
	c.sample()
	assert.Equal(t, uint64(1), c.FramesSent(), "failed sends are not counted")
}

func TestFailedSendIsRetriedWithoutMovement(t *testing.T) {
	src := &fakeSource{x: 25, y: 75, width: 100, height: 100}
	c := NewCapture(src, 0)
	dc := &fakeChannel{err: errors.New("channel not open")}
	c.Attach(dc)

	c.sample()
	assert.Equal(t, uint64(0), c.FramesSent())

	dc.mu.Lock()
	dc.err = nil
	dc.mu.Unlock()
	c.sample()
	require.Equal(t, 1, dc.count(), "position sent once the channel accepts it")
	x, y := dc.last(t)
	assert.Equal(t, float32(0.25), x)
	assert.Equal(t, float32(0.75), y)

	c.sample()
	assert.Equal(t, 1, dc.count())
}

func TestCaptureLoop(t *testing.T) {
	src := &fakeSource{x: 1, y: 1, width: 10, height: 10}
	c := NewCapture(src, 500)
	dc := &fakeChannel{}

	c.Start()
	c.Attach(dc)
	assert.Eventually(t, func() bool { return dc.count() == 1 }, time.Second, time.Millisecond)

	src.move(5, 5)
	assert.Eventually(t, func() bool { return dc.count() == 2 }, time.Second, time.Millisecond)

	c.Stop()
	c.Stop()
}
