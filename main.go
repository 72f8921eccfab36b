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
	"github.com/tomaslejdung/deskcast/pkg/settings"
)

func printHelp() {
	fmt.Println(`deskcast - stream this desktop to one remote viewer

Usage: deskcast [options]

By default deskcast runs its own relay on --port and prints the URL
viewers connect to. Use --signal to register with a remote relay instead.

Options:
  --local                Use local signal server (` + LocalSignalServer + `)
  --signal <url>         Signal server URL (ws://, wss://, http:// or host:port)
  --serve, -s            Run as signal server only
  --port, -p <port>      Signal server port (default: 8080)
  --fps <rate>           Target framerate (default: 30)
  --quality <preset>     Encoding quality: low, medium, high, ultra, max, or kbps
  --codec <codec>        Video codec: vp8 (default), vp9, h264
  --source <source>      Capture source: ximage (default), pipewire
  --display <name>       X display to capture (default: $DISPLAY)
  --refresh <hz>         Refresh rate of created display modes (default: 60)
  --pointer-hz <hz>      Pointer sampling rate (default: 120)
  --headless             Run without the terminal UI
  --save                 Save these options as defaults
  --help, -h             Show help

Network Options:
  --turn <url>           TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>     TURN server username
  --turn-pass <pass>     TURN server password
  --force-relay          Force TURN relay (disable direct P2P connections)

Examples:
  deskcast                         # Local relay, viewers connect directly
  deskcast --serve                 # Relay only
  deskcast --signal relay.lan:8080 # Register with a remote relay
  deskcast-viewer --signal ws://host:8080/ws --width 2560 --height 1440

TUI Controls:
  e             End the current session
  x             Clear the last error
  q             Quit (restores the display first)`)
}

func main() {
	manager, err := settings.NewManager()
	if err != nil {
		log.Fatalf("Settings: %v", err)
	}
	saved, err := manager.Load()
	if err != nil {
		log.Printf("Settings: %v, using defaults", err)
	}

	config, err := parseFlags(flag.CommandLine, os.Args[1:], saved)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if config.Help {
		printHelp()
		return
	}

	if config.Save {
		if err := manager.Save(config.HostSettings); err != nil {
			log.Fatalf("Save settings: %v", err)
		}
		fmt.Printf("Settings saved to %s\n", manager.Path())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Server-only mode
	if config.ServeMode {
		runSignalServer(ctx, config.Port)
		return
	}

	host, err := NewHost(config)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if config.Headless {
		if err := host.Run(ctx); err != nil {
			log.Fatalf("Host error: %v", err)
		}
		return
	}

	err = RunTUI(config, host, func(quit <-chan struct{}) error {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-runCtx.Done():
			}
		}()
		return host.Run(runCtx)
	})
	if err != nil {
		log.Fatalf("TUI error: %v", err)
	}
}

func runSignalServer(ctx context.Context, port int) {
	addr := fmt.Sprintf(":%d", port)

	fmt.Printf("Starting signal server on ws://%s:%d/ws\n", sig.LocalIP(), port)
	fmt.Println("Press Ctrl+C to stop")

	if err := sig.NewServer().ListenAndServe(ctx, addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
