package media

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Capture sources understood by BuildPipeline
const (
	SourceXImage   = "ximage"
	SourcePipeWire = "pipewire"
)

const stopGrace = 2 * time.Second

// PipelineOptions configure the gst-launch capture pipeline
type PipelineOptions struct {
	Source  string // SourceXImage or SourcePipeWire
	Display string // X display for ximagesrc, empty for $DISPLAY
	Codec   CodecInfo
	Bitrate int // kbps
	FPS     int
	Port    int // local UDP port receiving RTP
}

// BuildPipeline returns the gst-launch-1.0 element description for opts
func BuildPipeline(opts PipelineOptions) string {
	var source string
	switch opts.Source {
	case SourcePipeWire:
		source = "pipewiresrc do-timestamp=true"
	default:
		source = "ximagesrc use-damage=false show-pointer=false"
		if opts.Display != "" {
			source += " display-name=" + opts.Display
		}
	}

	parts := []string{
		source,
		fmt.Sprintf("video/x-raw,framerate=%d/1", opts.FPS),
		"videoconvert",
		"queue max-size-buffers=2 leaky=downstream",
		opts.Codec.Encoder(opts.Bitrate, opts.FPS),
		opts.Codec.Payloader + " mtu=1200",
		fmt.Sprintf("udpsink host=127.0.0.1 port=%d sync=false", opts.Port),
	}
	return strings.Join(parts, " ! ")
}

// Process is a running capture pipeline
type Process interface {
	// Done is closed when the process exits
	Done() <-chan struct{}
	Stop()
}

// Launcher starts a capture pipeline
type Launcher func(ctx context.Context, pipeline string) (Process, error)

type gstProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// LaunchGst runs pipeline with gst-launch-1.0
func LaunchGst(ctx context.Context, pipeline string) (Process, error) {
	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		return nil, fmt.Errorf("gst-launch-1.0 not found: %w", err)
	}

	args := append([]string{"-e"}, strings.Fields(pipeline)...)
	cmd := exec.Command("gst-launch-1.0", args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start gst-launch: %w", err)
	}
	log.Printf("Media: started gst-launch (pid %d)", cmd.Process.Pid)

	p := &gstProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("Media: gst-launch exited: %v", err)
		}
		close(p.done)
	}()
	return p, nil
}

func (p *gstProcess) Done() <-chan struct{} {
	return p.done
}

// Stop interrupts the pipeline so it can send EOS, then kills it after a grace period
func (p *gstProcess) Stop() {
	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGINT)
	select {
	case <-p.done:
	case <-time.After(stopGrace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}
