package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// DefaultFailsafe bounds how long the splash stays up no matter what:
// a wedged provision or launch must never leave a splash on screen
// forever.
const DefaultFailsafe = 120 * time.Second

// StatusMsg updates the line under the banner ("Installing
// requirements...", "Starting application...").
type StatusMsg string

// DoneMsg ends the splash. A nil Err means the application came up.
type DoneMsg struct {
	Err error
}

type failsafeMsg struct{}

// Splash is the bubbletea model for the startup screen.
type Splash struct {
	spinner  spinner.Model
	title    string
	version  string
	status   string
	failsafe time.Duration

	err       error
	done      bool
	cancelled bool
	timedOut  bool
}

// NewSplash creates a splash for the given product title and version.
// A non-positive failsafe uses DefaultFailsafe.
func NewSplash(title, version string, failsafe time.Duration) Splash {
	if failsafe <= 0 {
		failsafe = DefaultFailsafe
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Splash{
		spinner:  sp,
		title:    title,
		version:  version,
		status:   "Preparing environment...",
		failsafe: failsafe,
	}
}

func (s Splash) Init() tea.Cmd {
	failsafe := s.failsafe
	return tea.Batch(
		s.spinner.Tick,
		tea.Tick(failsafe, func(time.Time) tea.Msg { return failsafeMsg{} }),
	)
}

func (s Splash) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			s.cancelled = true
			return s, tea.Quit
		}
		return s, nil

	case StatusMsg:
		s.status = string(msg)
		return s, nil

	case DoneMsg:
		s.done = true
		s.err = msg.Err
		return s, tea.Quit

	case failsafeMsg:
		if s.done {
			return s, nil
		}
		s.timedOut = true
		return s, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	}
	return s, nil
}

func (s Splash) View() string {
	var b strings.Builder
	banner := fmt.Sprintf("%s  v%s", s.title, s.version)
	b.WriteString("\n")
	b.WriteString(bannerStyle.Render(banner))
	b.WriteString("\n\n")

	switch {
	case s.err != nil:
		b.WriteString(errorStyle.Render("startup failed: " + s.err.Error()))
	case s.timedOut:
		b.WriteString(errorStyle.Render("startup timed out"))
	default:
		b.WriteString(fmt.Sprintf("%s %s", s.spinner.View(), statusStyle.Render(s.status)))
	}

	b.WriteString("\n\n")
	b.WriteString(hintStyle.Render("press q to cancel"))
	b.WriteString("\n")
	return b.String()
}

// Cancelled reports whether the operator aborted the startup.
func (s Splash) Cancelled() bool { return s.cancelled }

// TimedOut reports whether the failsafe fired before the app came up.
func (s Splash) TimedOut() bool { return s.timedOut }

// Err returns the startup error, if any.
func (s Splash) Err() error { return s.err }
