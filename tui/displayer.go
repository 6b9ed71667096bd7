package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/folioboard/dashboard-cli/apiclient"
)

// Displayer abstracts all output from the dashboard commands. It also
// receives pipeline events from the apiclient as an Observer.
type Displayer interface {
	apiclient.Observer

	Banner(serverURL string)
	SessionFound()
	SessionMissing()
	LoggingIn(user string)
	LoginOK()
	LoginFailed(err error)
	LoggedOut(err error)
	Status(authenticated bool, who string)
	WidgetLoading(name string)
	WidgetLoaded(name, summary string)
	WidgetFailed(name string, err error)
	SignInRequired(path string)
	Done(loaded, failed int, elapsed time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

// printf serialises writes; widget callbacks arrive from several goroutines.
func (p *PlainDisplayer) printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, a...)
}

func (p *PlainDisplayer) Banner(serverURL string) {
	p.printf("=== Portfolio Dashboard (%s) ===\n\n", serverURL)
}

func (p *PlainDisplayer) SessionFound() {
	p.printf("Found existing session.\n")
}

func (p *PlainDisplayer) SessionMissing() {
	p.printf("No existing session.\n")
}

func (p *PlainDisplayer) LoggingIn(user string) {
	p.printf("Signing in as %s...\n", user)
}

func (p *PlainDisplayer) LoginOK() {
	p.printf("Signed in successfully!\n")
}

func (p *PlainDisplayer) LoginFailed(err error) {
	p.printf("Sign-in failed: %v\n", err)
}

func (p *PlainDisplayer) LoggedOut(err error) {
	if err != nil {
		p.printf("Warning: server sign-out failed: %v\n", err)
	}
	p.printf("Local session cleared.\n")
}

func (p *PlainDisplayer) Status(authenticated bool, who string) {
	if !authenticated {
		p.printf("Session: signed out\n")
		return
	}
	p.printf("Session: signed in\n")
	if who != "" {
		p.printf("User: %s\n", who)
	}
}

func (p *PlainDisplayer) WidgetLoading(name string) {
	p.printf("Loading %s...\n", name)
}

func (p *PlainDisplayer) WidgetLoaded(name, summary string) {
	p.printf("%s: %s\n", name, summary)
}

func (p *PlainDisplayer) WidgetFailed(name string, err error) {
	p.printf("%s failed: %v\n", name, err)
}

func (p *PlainDisplayer) RefreshStarted() {
	p.printf("Session expired (401), refreshing...\n")
}

func (p *PlainDisplayer) RefreshSucceeded() {
	p.printf("Session refreshed, replaying requests...\n")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	p.printf("Session refresh failed: %v\n", err)
}

func (p *PlainDisplayer) RequestQueued(method, path string, depth int) {
	p.printf("Waiting for refresh: %s %s (queue %d)\n", method, path, depth)
}

func (p *PlainDisplayer) RequestReplayed(method, path string) {
	p.printf("Replaying %s %s\n", method, path)
}

func (p *PlainDisplayer) SignInRequired(path string) {
	p.printf("Sign-in required (%s). Run the login command.\n", path)
}

func (p *PlainDisplayer) Done(loaded, failed int, elapsed time.Duration) {
	p.printf("\n========================================\n")
	p.printf("Widgets loaded: %d\n", loaded)
	p.printf("Widgets failed: %d\n", failed)
	p.printf("Elapsed: %s\n", elapsed.Round(time.Millisecond))
	p.printf("========================================\n")
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct {
	apiclient.NoopObserver
}

func (NoopDisplayer) Banner(_ string)                {}
func (NoopDisplayer) SessionFound()                  {}
func (NoopDisplayer) SessionMissing()                {}
func (NoopDisplayer) LoggingIn(_ string)             {}
func (NoopDisplayer) LoginOK()                       {}
func (NoopDisplayer) LoginFailed(_ error)            {}
func (NoopDisplayer) LoggedOut(_ error)              {}
func (NoopDisplayer) Status(_ bool, _ string)        {}
func (NoopDisplayer) WidgetLoading(_ string)         {}
func (NoopDisplayer) WidgetLoaded(_, _ string)       {}
func (NoopDisplayer) WidgetFailed(_ string, _ error) {}
func (NoopDisplayer) SignInRequired(_ string)        {}
func (NoopDisplayer) Done(_, _ int, _ time.Duration) {}
func (NoopDisplayer) Fatal(_ error)                  {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(serverURL string) {
	t.p.Send(MsgBanner{ServerURL: serverURL})
}

func (t *ProgramDisplayer) SessionFound() {
	t.p.Send(MsgSessionFound{})
}

func (t *ProgramDisplayer) SessionMissing() {
	t.p.Send(MsgSessionMissing{})
}

func (t *ProgramDisplayer) LoggingIn(user string) {
	t.p.Send(MsgLoggingIn{User: user})
}

func (t *ProgramDisplayer) LoginOK() {
	t.p.Send(MsgLoginOK{})
}

func (t *ProgramDisplayer) LoginFailed(err error) {
	t.p.Send(MsgLoginFailed{Err: err})
}

func (t *ProgramDisplayer) LoggedOut(err error) {
	t.p.Send(MsgLoggedOut{Err: err})
}

func (t *ProgramDisplayer) Status(authenticated bool, who string) {
	t.p.Send(MsgStatus{Authenticated: authenticated, Who: who})
}

func (t *ProgramDisplayer) WidgetLoading(name string) {
	t.p.Send(MsgWidgetLoading{Name: name})
}

func (t *ProgramDisplayer) WidgetLoaded(name, summary string) {
	t.p.Send(MsgWidgetLoaded{Name: name, Summary: summary})
}

func (t *ProgramDisplayer) WidgetFailed(name string, err error) {
	t.p.Send(MsgWidgetFailed{Name: name, Err: err})
}

func (t *ProgramDisplayer) RefreshStarted() {
	t.p.Send(MsgRefreshStarted{})
}

func (t *ProgramDisplayer) RefreshSucceeded() {
	t.p.Send(MsgRefreshSucceeded{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) RequestQueued(method, path string, depth int) {
	t.p.Send(MsgRequestQueued{Method: method, Path: path, Depth: depth})
}

func (t *ProgramDisplayer) RequestReplayed(method, path string) {
	t.p.Send(MsgRequestReplayed{Method: method, Path: path})
}

func (t *ProgramDisplayer) SignInRequired(path string) {
	t.p.Send(MsgSignInRequired{Path: path})
}

func (t *ProgramDisplayer) Done(loaded, failed int, elapsed time.Duration) {
	t.p.Send(MsgDone{Loaded: loaded, Failed: failed, Elapsed: elapsed})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
