// Command relay runs the standalone signaling relay pairing one host with
// one client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	sig "github.com/tomaslejdung/deskcast/pkg/signal"
)

func main() {
	port := flag.Int("port", 8080, "Server port")
	flag.Parse()

	// Check for PORT env var (for cloud deployments)
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("deskcast relay starting on %s", addr)
	log.Printf("Connect with ws://%s:%d/ws", sig.LocalIP(), *port)

	if err := sig.NewServer().ListenAndServe(ctx, addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
