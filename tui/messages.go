package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ ServerURL string }

// MsgSessionFound signals that the local session flag is set.
type MsgSessionFound struct{}

// MsgSessionMissing signals that no local session exists.
type MsgSessionMissing struct{}

// MsgLoggingIn signals that the sign-in call is in progress.
type MsgLoggingIn struct{ User string }

// MsgLoginOK signals a successful sign-in.
type MsgLoginOK struct{}

// MsgLoginFailed signals that sign-in was rejected or could not be sent.
type MsgLoginFailed struct{ Err error }

// MsgLoggedOut signals that the local session was cleared.
type MsgLoggedOut struct{ Err error }

// MsgStatus carries the result of the status command.
type MsgStatus struct {
	Authenticated bool
	Who           string
}

// MsgWidgetLoading signals that a widget request was dispatched.
type MsgWidgetLoading struct{ Name string }

// MsgWidgetLoaded signals that a widget's data arrived.
type MsgWidgetLoaded struct {
	Name    string
	Summary string
}

// MsgWidgetFailed signals that a widget could not be loaded.
type MsgWidgetFailed struct {
	Name string
	Err  error
}

// MsgRefreshStarted signals that the session refresh call was sent.
type MsgRefreshStarted struct{}

// MsgRefreshSucceeded signals that the session was refreshed.
type MsgRefreshSucceeded struct{}

// MsgRefreshFailed signals that the session refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgRequestQueued signals that a request is waiting on the refresh.
type MsgRequestQueued struct {
	Method string
	Path   string
	Depth  int
}

// MsgRequestReplayed signals that a request was re-sent after a refresh.
type MsgRequestReplayed struct {
	Method string
	Path   string
}

// MsgSignInRequired signals that the user has to sign in again.
type MsgSignInRequired struct{ Path string }

// MsgDone signals that the command finished.
type MsgDone struct {
	Loaded  int
	Failed  int
	Elapsed time.Duration
}

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
