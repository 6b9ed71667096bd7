package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
)

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		if !ok {
			t.Fatalf("Update returned %T, want Model", next)
		}
	}
	return m
}

func TestModel_WidgetRows(t *testing.T) {
	m := update(t, NewModel(),
		MsgWidgetLoading{Name: "holdings"},
		MsgWidgetLoading{Name: "risk"},
		MsgWidgetLoaded{Name: "holdings", Summary: "12 positions"},
		MsgWidgetFailed{Name: "risk", Err: errors.New("server failure (502)")},
	)

	if m.state != stateLoading {
		t.Fatalf("state = %v, want stateLoading", m.state)
	}
	if len(m.widgets) != 2 {
		t.Fatalf("widgets = %d, want 2", len(m.widgets))
	}
	if m.widgets[0].state != widgetLoaded || m.widgets[0].detail != "12 positions" {
		t.Errorf("holdings row = %+v", m.widgets[0])
	}
	if m.widgets[1].state != widgetFailed {
		t.Errorf("risk row = %+v", m.widgets[1])
	}
}

func TestModel_RefreshLifecycle(t *testing.T) {
	m := update(t, NewModel(),
		MsgWidgetLoading{Name: "holdings"},
		MsgRefreshStarted{},
		MsgRequestQueued{Method: "GET", Path: "/portfolio/risk", Depth: 1},
		MsgRequestQueued{Method: "GET", Path: "/portfolio/insights", Depth: 2},
	)
	if m.state != stateRefreshing {
		t.Fatalf("state = %v, want stateRefreshing", m.state)
	}
	if m.queued != 2 {
		t.Errorf("queued = %d, want 2", m.queued)
	}

	m = update(t, m, MsgRefreshSucceeded{}, MsgRequestReplayed{Method: "GET", Path: "/portfolio/holdings"})
	if m.state != stateLoading {
		t.Errorf("state = %v, want stateLoading", m.state)
	}
	last := m.statusLines[len(m.statusLines)-1]
	if last.text != "Replayed GET /portfolio/holdings" {
		t.Errorf("last status = %q", last.text)
	}
}

func TestModel_SignInRequiredSurvivesDone(t *testing.T) {
	m := update(t, NewModel(),
		MsgRefreshStarted{},
		MsgRefreshFailed{Err: errors.New("session expired")},
		MsgSignInRequired{Path: "/login"},
		MsgDone{Loaded: 0, Failed: 3, Elapsed: time.Second},
	)
	if m.state != stateSignIn {
		t.Fatalf("state = %v, want stateSignIn", m.state)
	}
	if !strings.Contains(m.viewSignIn(), "/login") {
		t.Errorf("sign-in view should mention the sign-in path")
	}
}

func TestModel_Done(t *testing.T) {
	m := update(t, NewModel(),
		MsgWidgetLoading{Name: "holdings"},
		MsgWidgetLoaded{Name: "holdings", Summary: "ok"},
		MsgDone{Loaded: 1, Elapsed: 1500 * time.Millisecond},
	)
	if m.state != stateSuccess {
		t.Fatalf("state = %v, want stateSuccess", m.state)
	}
	if _, cmd := m.Update(tickMsg(time.Now())); cmd != nil {
		t.Error("timer should stop once finished")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{1500 * time.Millisecond, "2s"},
		{59 * time.Second, "59s"},
		{61 * time.Second, "1m 1s"},
		{10 * time.Minute, "10m 0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlainDisplayer(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)

	d.Banner("http://localhost:8000")
	d.RefreshStarted()
	d.RequestQueued("GET", "/portfolio/risk", 1)
	d.RefreshFailed(errors.New("session expired"))
	d.SignInRequired("/login")
	d.LoggedOut(errors.New("connection refused"))

	out := buf.String()
	for _, want := range []string{
		"=== Portfolio Dashboard (http://localhost:8000) ===",
		"Session expired (401), refreshing...",
		"Waiting for refresh: GET /portfolio/risk (queue 1)",
		"Session refresh failed: session expired",
		"Sign-in required (/login)",
		"Warning: server sign-out failed: connection refused",
		"Local session cleared.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

var (
	_ Displayer = (*PlainDisplayer)(nil)
	_ Displayer = NoopDisplayer{}
	_ Displayer = (*ProgramDisplayer)(nil)
)
