// Package pointer samples the host pointer and streams normalized positions
// over the session's data channel.
package pointer

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomaslejdung/deskcast/pkg/control"
	"github.com/tomaslejdung/deskcast/pkg/session"
)

// DefaultRate is the sampling rate in Hz
const DefaultRate = 120

// Source reports the pointer position and the screen it moves on
type Source interface {
	Position() (x, y int, err error)
	ScreenSize() (width, height int, err error)
}

type attachment struct {
	dc session.DataChannel
}

// Capture samples a Source on a background loop and sends a frame on the
// attached channel whenever the pointer moves. Attach and Detach are the only
// writers of the channel handle; the loop only reads it.
type Capture struct {
	source   Source
	interval time.Duration

	current atomic.Pointer[attachment]
	sent    atomic.Uint64

	// loop state
	last          *attachment
	lastX, lastY  int  // last position delivered to last
	synced        bool // last holds lastX, lastY
	width, height int
	failing       bool

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewCapture creates a capture sampling src at rate Hz
func NewCapture(src Source, rate int) *Capture {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Capture{
		source:   src,
		interval: time.Second / time.Duration(rate),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Attach starts streaming on dc
func (c *Capture) Attach(dc session.DataChannel) {
	c.current.Store(&attachment{dc: dc})
}

// Detach stops streaming
func (c *Capture) Detach() {
	c.current.Store(nil)
}

// FramesSent returns the number of frames sent since start
func (c *Capture) FramesSent() uint64 {
	return c.sent.Load()
}

// Start launches the sampling loop
func (c *Capture) Start() {
	go c.loop()
}

// Stop ends the sampling loop and waits for it
func (c *Capture) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

func (c *Capture) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

// sample takes one reading and sends it if the pointer moved
func (c *Capture) sample() {
	a := c.current.Load()
	if a == nil {
		c.last = nil
		return
	}

	fresh := a != c.last
	if fresh {
		// the display may have been switched since the last session
		w, h, err := c.source.ScreenSize()
		if err != nil {
			c.report(err)
			return
		}
		c.width, c.height = w, h
		c.last = a
		c.synced = false
	}

	x, y, err := c.source.Position()
	if err != nil {
		c.report(err)
		return
	}
	c.failing = false

	if c.synced && x == c.lastX && y == c.lastY {
		return
	}

	fx, fy := control.Normalize(x, y, c.width, c.height)
	if err := a.dc.Send(control.Encode(fx, fy)); err != nil {
		// channel not writable yet or already closing; retried next tick
		c.synced = false
		return
	}
	c.lastX, c.lastY = x, y
	c.synced = true
	c.sent.Add(1)
}

// report logs the first error of a failing streak
func (c *Capture) report(err error) {
	if !c.failing {
		log.Printf("Pointer: %v", err)
	}
	c.failing = true
}
