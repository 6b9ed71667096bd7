package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the elapsed timer.
type tickMsg time.Time

// state represents the current phase of a dashboard command.
type state int

const (
	stateInit       state = iota
	stateLoggingIn        // sign-in call outstanding
	stateLoading          // widget requests outstanding
	stateRefreshing       // session refresh outstanding, requests queued
	stateSuccess          // all done
	stateSignIn           // refresh failed, user must sign in
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

type widgetState int

const (
	widgetLoading widgetState = iota
	widgetLoaded
	widgetFailed
)

// widgetRow is one dashboard widget and its latest outcome.
type widgetRow struct {
	name   string
	state  widgetState
	detail string
}

// Model is the BubbleTea model for the dashboard TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	serverURL string
	started   time.Time
	elapsed   time.Duration
	queued    int

	widgets []widgetRow

	// Summary / error display
	loaded     int
	failed     int
	signInPath string
	errMsg     string

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
		started: time.Now(),
	}
}

// Init starts the spinner animation and the elapsed timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickAfterSecond())
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
		if m.finished() {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Dashboard messages ───────────────────────────────────────────────────

	case MsgBanner:
		m.serverURL = msg.ServerURL
		return m, nil

	case MsgSessionFound:
		m.addStatus(statusOK, "Found existing session")
		return m, nil

	case MsgSessionMissing:
		m.addStatus(statusInfo, "No existing session")
		return m, nil

	case MsgLoggingIn:
		m.state = stateLoggingIn
		m.addStatus(statusInfo, "Signing in as "+msg.User)
		return m, nil

	case MsgLoginOK:
		m.addStatus(statusOK, "Signed in successfully")
		return m, nil

	case MsgLoginFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Sign-in failed: %v", msg.Err))
		return m, nil

	case MsgLoggedOut:
		if msg.Err != nil {
			m.addStatus(statusWarn, fmt.Sprintf("Server sign-out failed: %v", msg.Err))
		}
		m.addStatus(statusOK, "Local session cleared")
		return m, nil

	case MsgStatus:
		if msg.Authenticated {
			text := "Session: signed in"
			if msg.Who != "" {
				text += " as " + msg.Who
			}
			m.addStatus(statusOK, text)
		} else {
			m.addStatus(statusWarn, "Session: signed out")
		}
		return m, nil

	case MsgWidgetLoading:
		if m.state == stateInit || m.state == stateLoggingIn {
			m.state = stateLoading
		}
		m.setWidget(msg.Name, widgetLoading, "")
		return m, nil

	case MsgWidgetLoaded:
		m.setWidget(msg.Name, widgetLoaded, msg.Summary)
		return m, nil

	case MsgWidgetFailed:
		m.setWidget(msg.Name, widgetFailed, msg.Err.Error())
		return m, nil

	case MsgRefreshStarted:
		m.state = stateRefreshing
		m.queued = 0
		m.addStatus(statusWarn, "Session expired (401), refreshing...")
		return m, nil

	case MsgRefreshSucceeded:
		m.state = stateLoading
		m.addStatus(statusOK, "Session refreshed")
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Session refresh failed: %v", msg.Err))
		return m, nil

	case MsgRequestQueued:
		m.queued = msg.Depth
		m.addStatus(statusInfo, fmt.Sprintf("Queued %s %s behind refresh", msg.Method, msg.Path))
		return m, nil

	case MsgRequestReplayed:
		m.addStatus(statusInfo, fmt.Sprintf("Replayed %s %s", msg.Method, msg.Path))
		return m, nil

	case MsgSignInRequired:
		m.signInPath = msg.Path
		m.state = stateSignIn
		return m, nil

	case MsgDone:
		m.loaded = msg.Loaded
		m.failed = msg.Failed
		m.elapsed = msg.Elapsed
		if m.state != stateSignIn {
			m.state = stateSuccess
		}
		return m, nil

	case MsgFatal:
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
	case stateSignIn:
		return tea.NewView(m.viewSignIn())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) finished() bool {
	return m.state == stateSuccess || m.state == stateSignIn || m.state == stateError
}

// viewMain is shown while signing in, loading and refreshing.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString(m.viewTitle())

	switch m.state {
	case stateLoggingIn:
		b.WriteString(m.spinner.View())
		b.WriteString(" Signing in...\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing session...  ")
		b.WriteString(styleDim.Render(fmt.Sprintf("%d waiting", m.queued)))
		b.WriteString("\n")

	case stateLoading:
		b.WriteString(m.spinner.View())
		b.WriteString(" Loading dashboard...  ")
		b.WriteString(styleDim.Render(formatDuration(m.elapsed) + " elapsed"))
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewWidgets())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown once every widget has settled.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.failed == 0 {
		b.WriteString(styleOK.Render("  ✓ Dashboard loaded"))
	} else {
		b.WriteString(styleWarn.Render("  ⚠ Dashboard loaded with errors"))
	}
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Loaded:  "))
	b.WriteString(fmt.Sprintf("%d\n", m.loaded))

	b.WriteString(styleBold.Render("Failed:  "))
	b.WriteString(fmt.Sprintf("%d\n", m.failed))

	b.WriteString(styleBold.Render("Elapsed: "))
	b.WriteString(formatDuration(m.elapsed) + "\n")

	b.WriteString(m.viewWidgets())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSignIn is shown when the session could not be refreshed.
func (m Model) viewSignIn() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleNoticeBox.Render("  Sign-in required  "))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  Your session has ended (" + m.signInPath + "). Run the login command."))
	b.WriteString("\n")

	b.WriteString(m.viewWidgets())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Dashboard failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewTitle() string {
	title := "  Portfolio Dashboard  "
	if m.serverURL != "" {
		title = "  Portfolio Dashboard · " + m.serverURL + "  "
	}
	return "\n" + styleTitleBox.Render(title) + "\n\n"
}

// viewWidgets renders one row per widget.
func (m Model) viewWidgets() string {
	if len(m.widgets) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, w := range m.widgets {
		switch w.state {
		case widgetLoaded:
			b.WriteString(styleOK.Render("  ✓ " + w.name))
			b.WriteString(styleDim.Render("  " + w.detail))
		case widgetFailed:
			b.WriteString(styleErr.Render("  ✗ " + w.name))
			b.WriteString(styleDim.Render("  " + w.detail))
		default:
			b.WriteString("  " + m.spinner.View() + " " + w.name)
		}
		b.WriteString("\n")
	}
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

// setWidget updates the named row, appending it on first sight.
func (m *Model) setWidget(name string, s widgetState, detail string) {
	for i := range m.widgets {
		if m.widgets[i].name == name {
			m.widgets[i].state = s
			m.widgets[i].detail = detail
			return
		}
	}
	m.widgets = append(m.widgets, widgetRow{name: name, state: s, detail: detail})
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

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
