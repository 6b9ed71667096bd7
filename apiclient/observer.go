package apiclient

// Observer receives refresh pipeline events, e.g. to show them in a UI.
// Methods may be called from any goroutine.
type Observer interface {
	RefreshStarted()
	RefreshSucceeded()
	RefreshFailed(err error)
	RequestQueued(method, path string, depth int)
	RequestReplayed(method, path string)
}

// NoopObserver ignores all events.
type NoopObserver struct{}

func (NoopObserver) RefreshStarted()                  {}
func (NoopObserver) RefreshSucceeded()                {}
func (NoopObserver) RefreshFailed(_ error)            {}
func (NoopObserver) RequestQueued(_, _ string, _ int) {}
func (NoopObserver) RequestReplayed(_, _ string)      {}
