package media

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/pion/rtp"
)

const rtpBufferSize = 1500

// packetWriter is the part of a local track the pump writes to
type packetWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// pumpRTP reads RTP packets from conn and writes them to track until conn is
// closed. ready is closed once the first packet has been written.
func pumpRTP(conn net.PacketConn, track packetWriter, ready chan<- struct{}) {
	var once sync.Once
	signalReady := func() { once.Do(func() { close(ready) }) }

	buf := make([]byte, rtpBufferSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("Media: RTP read error: %v", err)
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			// ignore non-RTP
			continue
		}
		if err := track.WriteRTP(&pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Printf("Media: write RTP: %v", err)
		}
		signalReady()
	}
}
