package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tomaslejdung/deskcast/pkg/session"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

// sessionStatusMsg carries a coordinator snapshot
type sessionStatusMsg session.Status

// linkStateMsg carries a relay connection change
type linkStateMsg LinkState

type tickMsg time.Time

// hostExitedMsg is sent when Host.Run returns
type hostExitedMsg struct {
	err error
}

type model struct {
	config Config
	host   *Host
	quit   func()

	status    session.Status
	link      LinkState
	frames    uint64
	started   time.Time
	sessionAt time.Time
	lastError string
	exiting   bool
}

func initialModel(config Config, host *Host, quit func()) model {
	return model{
		config:  config,
		host:    host,
		quit:    quit,
		status:  host.Coordinator().Status(),
		link:    host.LinkState(),
		started: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionStatusMsg:
		prev := m.status.State
		m.status = session.Status(msg)
		if m.status.State == session.Preparing && prev != session.Preparing {
			m.sessionAt = time.Now()
		}
		if m.status.LastError != nil {
			m.lastError = m.status.LastError.Error()
		}
		return m, nil

	case linkStateMsg:
		m.link = LinkState(msg)
		if !m.link.Connected && m.link.LastError != "" {
			m.lastError = m.link.LastError
		}
		return m, nil

	case tickMsg:
		m.frames = m.host.FramesSent()
		return m, tickCmd()

	case hostExitedMsg:
		if msg.err != nil {
			log.Printf("Host exited: %v", msg.err)
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if !m.exiting {
			// the host restores the display, then hostExitedMsg quits
			m.exiting = true
			m.quit()
		}
		return m, nil

	case "e":
		if m.status.State.Active() {
			m.host.Coordinator().EndSession()
		}
		return m, nil

	case "x":
		m.lastError = ""
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("deskcast"))
	b.WriteString(dimStyle.Render(" - remote desktop host"))
	b.WriteString("\n\n")

	b.WriteString(m.renderRelay())
	b.WriteString("\n\n")
	b.WriteString(boxStyle.Render(m.renderSession()))
	b.WriteString("\n")

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m model) renderRelay() string {
	var b strings.Builder
	switch {
	case m.exiting:
		b.WriteString(errorStyle.Render("[RESTORING DISPLAY]"))
	case !m.link.Connected && m.link.Attempt > 0:
		b.WriteString(errorStyle.Render(fmt.Sprintf("[RECONNECTING %d]", m.link.Attempt)))
	case !m.link.Connected:
		b.WriteString(dimStyle.Render("[CONNECTING]"))
	case m.link.Remote:
		b.WriteString(selectedStyle.Render("[REMOTE RELAY]"))
	default:
		b.WriteString(selectedStyle.Render("[LOCAL RELAY]"))
	}

	if m.link.URL != "" {
		b.WriteString(" ")
		b.WriteString(urlStyle.Render(m.link.URL))
	}
	return b.String()
}

func (m model) renderSession() string {
	var lines []string

	state := m.status.State.String()
	if m.status.State == session.Connected {
		state = selectedStyle.Render(state)
	} else {
		state = statusStyle.Render(state)
	}
	lines = append(lines, "Session   "+state)

	if m.status.State.Active() {
		lines = append(lines, fmt.Sprintf("Viewer    %dx%d", m.status.Width, m.status.Height))
		lines = append(lines, "ID        "+dimStyle.Render(m.status.SessionID))
		lines = append(lines, "Duration  "+formatDuration(time.Since(m.sessionAt)))

		channel := dimStyle.Render("waiting")
		if m.status.ChannelOpen {
			channel = selectedStyle.Render("open")
		}
		lines = append(lines, "Pointer   "+channel+dimStyle.Render(fmt.Sprintf("  %d frames", m.frames)))
	} else {
		lines = append(lines, dimStyle.Render("Waiting for a viewer"))
	}

	lines = append(lines, "")
	lines = append(lines, dimStyle.Render(fmt.Sprintf("%s  %s  %d fps  up %s",
		strings.ToUpper(m.config.Codec), m.config.Quality, m.config.FPS, formatDuration(time.Since(m.started)))))
	return strings.Join(lines, "\n")
}

func (m model) renderHelp() string {
	actions := []string{keyStyle.Render("q") + helpStyle.Render(" quit")}
	if m.status.State.Active() {
		actions = append(actions, keyStyle.Render("e")+helpStyle.Render(" end session"))
	}
	if m.lastError != "" {
		actions = append(actions, keyStyle.Render("x")+helpStyle.Render(" clear error"))
	}
	return strings.Join(actions, "  ")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%02dm%02ds", m, s)
}

// RunTUI runs the host behind the status view
func RunTUI(config Config, host *Host, run func(quit <-chan struct{}) error) error {
	// Write logs to file instead of corrupting TUI display
	logFile, err := os.Create("deskcast-debug.log")
	if err != nil {
		// Fall back to discarding if we can't create log file
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(logFile)
		log.Printf("=== deskcast started at %s ===", time.Now().Format(time.RFC3339))
		defer logFile.Close()
	}

	// Restore logging on exit
	defer log.SetOutput(os.Stderr)

	quit := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(quit) }) }

	p := tea.NewProgram(
		initialModel(config, host, stop),
		tea.WithAltScreen(),
	)

	// handlers only nudge; the forwarder always sends the latest snapshot
	statusChanged := make(chan struct{}, 1)
	linkChanged := make(chan struct{}, 1)
	nudge := func(ch chan struct{}) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	host.Coordinator().SetStatusHandler(func(session.Status) { nudge(statusChanged) })
	host.SetLinkStateHandler(func(LinkState) { nudge(linkChanged) })

	go func() {
		for {
			select {
			case <-statusChanged:
				p.Send(sessionStatusMsg(host.Coordinator().Status()))
			case <-linkChanged:
				p.Send(linkStateMsg(host.LinkState()))
			case <-quit:
				return
			}
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		err := run(quit)
		p.Send(hostExitedMsg{err: err})
	}()

	_, runErr := p.Run()
	stop()
	<-runDone
	return runErr
}
