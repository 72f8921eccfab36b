// Command viewer is a reference client: it registers with the relay,
// answers the host's offer and logs the pointer positions it receives.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomaslejdung/deskcast/pkg/media"
	sig "github.com/tomaslejdung/deskcast/pkg/signal"
)

func main() {
	signalURL := flag.String("signal", "ws://localhost:8080/ws", "Signal server URL")
	width := flag.Int("width", sig.DefaultWidth, "Advertised viewer width")
	height := flag.Int("height", sig.DefaultHeight, "Advertised viewer height")
	stay := flag.Bool("stay", false, "Keep waiting for a new host after host_disconnected")
	turn := flag.String("turn", "", "TURN server URL")
	turnUser := flag.String("turn-user", "", "TURN server username")
	turnPass := flag.String("turn-pass", "", "TURN server password")
	forceRelay := flag.Bool("force-relay", false, "Force TURN relay")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, err := sig.DialLink(ctx, *signalURL, sig.Register(sig.RoleClient, *width, *height))
	if err != nil {
		log.Fatalf("Connect to relay: %v", err)
	}
	defer link.Close()
	log.Printf("Registered as client (%dx%d) at %s", *width, *height, sig.NormalizeURL(*signalURL))

	ice := media.ICEConfig{TURNServer: *turn, TURNUser: *turnUser, TURNPass: *turnPass, ForceRelay: *forceRelay}
	v := newViewer(link, ice.Configuration(), *stay)
	defer v.close()

	if err := v.run(ctx); err != nil {
		log.Printf("Viewer: %v", err)
	}
}
