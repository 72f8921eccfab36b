package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tomaslejdung/deskcast/pkg/media"
	"github.com/tomaslejdung/deskcast/pkg/settings"
)

// LocalSignalServer is the URL for a relay running on this machine
const LocalSignalServer = "ws://localhost:8080"

// Config holds runtime configuration
type Config struct {
	ServeMode bool // relay only
	Headless  bool // no TUI, logs to stderr
	Save      bool // persist the effective settings
	Help      bool
	Port      int
	Display   string // X display for capture and pointer

	settings.HostSettings
}

// ICE returns the ICE configuration for the media engine
func (c Config) ICE() media.ICEConfig {
	return media.ICEConfig{
		TURNServer: c.TURNServer,
		TURNUser:   c.TURNUser,
		TURNPass:   c.TURNPass,
		ForceRelay: c.ForceRelay,
	}
}

// Engine returns the media engine configuration
func (c Config) Engine() media.Config {
	return media.Config{
		ICE:     c.ICE(),
		Codec:   media.ParseCodecFlag(c.Codec),
		Bitrate: media.ParseQualityFlag(c.Quality),
		FPS:     c.FPS,
		Source:  c.Source,
		Display: c.Display,
	}
}

// parseFlags layers command line flags over saved settings. Only flags that
// were given on the command line override a saved value.
func parseFlags(fs *flag.FlagSet, args []string, saved settings.HostSettings) (Config, error) {
	config := Config{HostSettings: saved}
	var localMode bool
	var fps string

	fs.BoolVar(&config.ServeMode, "serve", false, "Run as signal server only")
	fs.BoolVar(&config.ServeMode, "s", false, "Run as signal server only (shorthand)")

	fs.IntVar(&config.Port, "port", 8080, "Signal server port")
	fs.IntVar(&config.Port, "p", 8080, "Signal server port (shorthand)")

	fs.StringVar(&fps, "fps", "", "Target framerate")
	fs.StringVar(&config.Quality, "quality", saved.Quality, "Encoding quality (low|medium|high|ultra|max or kbps)")
	fs.StringVar(&config.Codec, "codec", saved.Codec, "Video codec (vp8|vp9|h264)")
	fs.StringVar(&config.Source, "source", saved.Source, "Capture source (ximage|pipewire)")
	fs.StringVar(&config.Display, "display", os.Getenv("DISPLAY"), "X display to capture")
	fs.IntVar(&config.Refresh, "refresh", saved.Refresh, "Refresh rate for created display modes")
	fs.IntVar(&config.PointerHz, "pointer-hz", saved.PointerHz, "Pointer sampling rate")

	fs.StringVar(&config.Signal, "signal", saved.Signal, "Signal server URL (default: run a local one)")
	fs.BoolVar(&localMode, "local", false, "Use local signal server ("+LocalSignalServer+")")

	// TURN server flags
	fs.StringVar(&config.TURNServer, "turn", saved.TURNServer, "TURN server URL (e.g., turn:turn.example.com:3478)")
	fs.StringVar(&config.TURNUser, "turn-user", saved.TURNUser, "TURN server username")
	fs.StringVar(&config.TURNPass, "turn-pass", saved.TURNPass, "TURN server password")
	fs.BoolVar(&config.ForceRelay, "force-relay", saved.ForceRelay, "Force TURN relay (disable direct P2P)")

	fs.BoolVar(&config.Headless, "headless", false, "Run without the terminal UI")
	fs.BoolVar(&config.Save, "save", false, "Save the effective settings as defaults")
	fs.BoolVar(&config.Help, "help", false, "Show help")
	fs.BoolVar(&config.Help, "h", false, "Show help (shorthand)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	if fps != "" {
		config.FPS = media.ParseFPSFlag(fps)
	}

	// --local sets Signal to the local server
	if localMode {
		config.Signal = LocalSignalServer
	}

	if config.Port <= 0 || config.Port > 65535 {
		return config, fmt.Errorf("invalid port %d", config.Port)
	}
	return config, nil
}
