package tui

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the token expiry countdown.
type tickMsg time.Time

// state represents the current phase of the command.
type state int

const (
	stateInit       state = iota
	stateRestoring        // validating the stored session
	stateRefreshing       // refresh call in flight
	stateWorking          // command request in flight
	stateSuccess          // all done
	stateExpired          // session ended, login required
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the CLI progress display.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Request in flight
	path string

	// Success / error display
	summary   Summary
	remaining time.Duration
	route     string
	errMsg    string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleNoticeBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.remaining = max(time.Until(m.summary.ExpiresAt), 0)
		if m.remaining > 0 && m.state == stateSuccess {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgRestoring:
		m.state = stateRestoring
		return m, nil

	case MsgSessionRestored:
		m.addStatus(statusOK, "Signed in as "+displayName(msg.User))
		return m, nil

	case MsgGuest:
		if msg.Err != nil {
			m.addStatus(statusInfo, fmt.Sprintf("Not signed in: %v", msg.Err))
		} else {
			m.addStatus(statusInfo, "Not signed in")
		}
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgRefreshOK:
		m.state = stateWorking
		m.addStatus(statusOK, "Token refreshed successfully")
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgSessionExpired:
		m.route = msg.Route
		m.state = stateExpired
		return m, nil

	case MsgSignedIn:
		m.addStatus(statusOK, "Login successful, signed in as "+displayName(msg.User))
		return m, nil

	case MsgRegistered:
		m.addStatus(statusOK, fmt.Sprintf("Account created for %s (id %s)", msg.User.Email, msg.User.ID))
		return m, nil

	case MsgSignedOut:
		m.addStatus(statusOK, "Signed out, local credentials removed")
		return m, nil

	case MsgRequesting:
		m.path = msg.Path
		if m.state != stateRefreshing {
			m.state = stateWorking
		}
		return m, nil

	case MsgResponse:
		kind := statusOK
		if msg.StatusCode >= 400 {
			kind = statusWarn
		}
		m.addStatus(kind, fmt.Sprintf("GET %s: %d %s", msg.Path, msg.StatusCode, http.StatusText(msg.StatusCode)))
		return m, nil

	case MsgDone:
		m.summary = msg.Summary
		if m.state == stateExpired {
			return m, nil
		}
		m.state = stateSuccess
		if !msg.Summary.ExpiresAt.IsZero() {
			m.remaining = max(time.Until(msg.Summary.ExpiresAt), 0)
			return m, tickAfterSecond()
		}
		return m, nil

	case MsgFatal:
		if m.state == stateExpired {
			return m, nil
		}
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateExpired:
		return tea.NewView(m.viewExpired())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while the session is restored and requests run.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Complaint Portal  "))
	b.WriteString("\n\n")

	b.WriteString(m.spinner.View())
	switch m.state {
	case stateRestoring:
		b.WriteString(" Restoring session...\n")
	case stateRefreshing:
		b.WriteString(" Refreshing access token...\n")
	case stateWorking:
		if m.path != "" {
			b.WriteString(" Requesting " + m.path + "...\n")
		} else {
			b.WriteString(" Working...\n")
		}
	default:
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after the command completed.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.summary.User == nil {
		b.WriteString(styleDim.Render("  · Not signed in"))
		b.WriteString("\n")
		b.WriteString(m.viewStatusLog())
		return b.String()
	}

	b.WriteString(styleOK.Render("  ✓ Signed in"))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("User:       "))
	b.WriteString(displayName(*m.summary.User) + "\n")

	b.WriteString(styleBold.Render("ID:         "))
	b.WriteString(m.summary.User.ID + "\n")

	if !m.summary.ExpiresAt.IsZero() {
		b.WriteString(styleBold.Render("Expires In: "))
		b.WriteString(formatDuration(m.remaining) + "\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewExpired is shown when the session could not be recovered.
func (m Model) viewExpired() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Session expired"))
	b.WriteString("\n\n")
	b.WriteString(styleNoticeBox.Render("  complaint login  "))
	b.WriteString("\n")
	b.WriteString(styleDim.Render("  redirected to " + m.route))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Command failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
