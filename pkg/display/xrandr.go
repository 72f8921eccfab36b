// Package display switches the host's X display to a viewer's geometry with
// xrandr and restores it afterwards.
package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"sync"
)

// DefaultRefreshRate is the refresh rate passed to cvt
const DefaultRefreshRate = 60

var (
	ErrToolMissing   = errors.New("display tool not found")
	ErrNoOutput      = errors.New("no connected output")
	ErrBadModeline   = errors.New("could not parse cvt output")
	ErrModeNotActive = errors.New("mode not active after switch")
)

var (
	connectedRe = regexp.MustCompile(`(?m)^(\S+) connected (?:primary )?(?:(\d+x\d+)\+\d+\+\d+)?`)
	modelineRe  = regexp.MustCompile(`Modeline\s+"([^"]+)"\s+(.*)`)
)

// Runner runs an external command and returns its standard output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Available checks that xrandr and cvt are installed
func Available() error {
	for _, tool := range []string{"xrandr", "cvt"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s", ErrToolMissing, tool)
		}
	}
	return nil
}

// XRandR is a display controller backed by xrandr and cvt. At most one mode
// created by it exists at a time, and only modes it created are removed.
type XRandR struct {
	runner  Runner
	refresh int

	mu       sync.Mutex
	output   string // output that was switched
	original string // geometry before the first switch, e.g. "1920x1080"
	created  string // mode name added with --newmode
	switched bool
}

// NewXRandR creates a controller using runner. A nil runner runs the real tools.
func NewXRandR(runner Runner, refresh int) *XRandR {
	if runner == nil {
		runner = ExecRunner{}
	}
	if refresh <= 0 {
		refresh = DefaultRefreshRate
	}
	return &XRandR{runner: runner, refresh: refresh}
}

// SwitchTo switches the connected output to width x height and returns once
// xrandr reports the new geometry
func (x *XRandR) SwitchTo(ctx context.Context, width, height int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.created != "" {
		// release the previous session's mode before making another
		if err := x.restoreLocked(ctx); err != nil {
			log.Printf("Display: releasing previous mode: %v", err)
		}
	}

	output, current, err := x.query(ctx)
	if err != nil {
		return err
	}
	want := fmt.Sprintf("%dx%d", width, height)
	if current == want {
		log.Printf("Display: %s already at %s", output, want)
		return nil
	}

	if !x.switched {
		x.output = output
		x.original = current
		log.Printf("Display: saved original mode %s for %s", current, output)
	}

	cvt, err := x.runner.Run(ctx, "cvt", fmt.Sprint(width), fmt.Sprint(height), fmt.Sprint(x.refresh))
	if err != nil {
		return err
	}
	name, params, err := parseModeline(string(cvt))
	if err != nil {
		return err
	}

	listing, err := x.runner.Run(ctx, "xrandr")
	if err != nil {
		return err
	}
	if !strings.Contains(string(listing), name) {
		log.Printf("Display: creating mode %s", name)
		if _, err := x.runner.Run(ctx, "xrandr", append([]string{"--newmode", name}, params...)...); err != nil {
			return err
		}
		x.created = name
	}

	if _, err := x.runner.Run(ctx, "xrandr", "--addmode", output, name); err != nil {
		// usually already added
		log.Printf("Display: addmode %s: %v", name, err)
	}

	log.Printf("Display: switching %s to %s", output, name)
	x.switched = true
	if _, err := x.runner.Run(ctx, "xrandr", "--output", output, "--mode", name); err != nil {
		return err
	}

	_, active, err := x.query(ctx)
	if err != nil {
		return err
	}
	if active != want {
		return fmt.Errorf("%w: %s reports %q, want %s", ErrModeNotActive, output, active, want)
	}
	return nil
}

// RestoreOriginal switches back to the saved geometry and removes the
// created mode. It is a no-op when nothing was switched. When the output had
// no active mode before the switch, the created mode is kept.
func (x *XRandR) RestoreOriginal(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.restoreLocked(ctx)
}

func (x *XRandR) restoreLocked(ctx context.Context) error {
	if !x.switched {
		return nil
	}

	if x.original != "" {
		log.Printf("Display: restoring %s to %s", x.output, x.original)
		if _, err := x.runner.Run(ctx, "xrandr", "--output", x.output, "--mode", x.original); err != nil {
			return fmt.Errorf("restore %s: %w", x.original, err)
		}
	}

	if x.created != "" && x.original == "" {
		// nothing to switch back to, so the created mode is still in use
		log.Printf("Display: no original mode for %s, leaving %s in place", x.output, x.created)
		x.created = ""
	}

	if x.created != "" {
		if _, err := x.runner.Run(ctx, "xrandr", "--delmode", x.output, x.created); err != nil {
			log.Printf("Display: could not delete mode %s: %v", x.created, err)
		}
		if _, err := x.runner.Run(ctx, "xrandr", "--rmmode", x.created); err != nil {
			log.Printf("Display: could not remove mode %s: %v", x.created, err)
		}
		x.created = ""
	}

	x.switched = false
	x.original = ""
	x.output = ""
	return nil
}

// query returns the first connected output and its current geometry
func (x *XRandR) query(ctx context.Context) (output, geometry string, err error) {
	out, err := x.runner.Run(ctx, "xrandr")
	if err != nil {
		return "", "", err
	}
	output, geometry, ok := parseConnectedOutput(string(out))
	if !ok {
		return "", "", ErrNoOutput
	}
	return output, geometry, nil
}

// parseConnectedOutput finds the first connected output in xrandr's listing.
// geometry is empty when the output has no active mode.
func parseConnectedOutput(listing string) (output, geometry string, ok bool) {
	m := connectedRe.FindStringSubmatch(listing)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// parseModeline extracts the mode name and parameters from cvt output
func parseModeline(cvt string) (name string, params []string, err error) {
	m := modelineRe.FindStringSubmatch(cvt)
	if m == nil {
		return "", nil, ErrBadModeline
	}
	params = strings.Fields(m[2])
	if len(params) == 0 {
		return "", nil, ErrBadModeline
	}
	return m[1], params, nil
}
