package apiclient

import (
	"context"
	"log/slog"
	"sync"
)

// RefreshState is the coordinator's state.
type RefreshState int

const (
	Idle RefreshState = iota
	Refreshing
)

func (s RefreshState) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// RefreshFunc performs the re-authentication call.
type RefreshFunc func(ctx context.Context) error

// ReplayFunc re-dispatches a request after a successful refresh.
type ReplayFunc func(ctx context.Context, req *Request) (*Response, error)

// CoordinatorConfig wires a Coordinator to its collaborators.
type CoordinatorConfig struct {
	Refresh RefreshFunc
	Replay  ReplayFunc
	Session SessionStore

	// Navigator and SignInPath control the redirect after a failed refresh.
	Navigator  Navigator
	SignInPath string

	// OnTerminalFailure runs after the session is cleared, before waiters are
	// rejected. The client uses it to drop stale cookies.
	OnTerminalFailure func()

	Observer Observer
	Logger   *slog.Logger
}

// Coordinator runs at most one session refresh at a time. Expiry failures that
// arrive while a refresh is outstanding wait in a FIFO queue and are replayed,
// or rejected, when it settles.
type Coordinator struct {
	refresh    RefreshFunc
	replay     ReplayFunc
	session    SessionStore
	nav        Navigator
	signInPath string
	onFailure  func()
	observer   Observer
	logger     *slog.Logger

	mu    sync.Mutex
	state RefreshState
	queue pendingQueue
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		refresh:    cfg.Refresh,
		replay:     cfg.Replay,
		session:    cfg.Session,
		nav:        cfg.Navigator,
		signInPath: cfg.SignInPath,
		onFailure:  cfg.OnTerminalFailure,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
	}
	if c.signInPath == "" {
		c.signInPath = DefaultSignInPath
	}
	if c.observer == nil {
		c.observer = NoopObserver{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// State reports whether a refresh is outstanding.
func (c *Coordinator) State() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued requests.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// HandleExpiry recovers a request that failed with an expired session. The
// first caller starts the refresh; callers arriving while it is outstanding are
// queued. Either way the caller blocks until its replay completes or the
// refresh fails. Cancelling ctx stops the wait but never the refresh.
func (c *Coordinator) HandleExpiry(ctx context.Context, req *Request) (*Response, error) {
	entry := newPendingEntry(ctx, req.markRetried())

	c.mu.Lock()
	if c.state == Refreshing {
		depth := c.queue.push(entry)
		c.mu.Unlock()

		c.logger.Debug("request queued behind session refresh",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("depth", depth),
		)
		c.observer.RequestQueued(req.Method, req.Path, depth)
		return entry.wait(ctx)
	}
	c.state = Refreshing
	c.mu.Unlock()

	c.logger.Info("session expired, refreshing",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
	)
	c.observer.RefreshStarted()
	go c.run(entry)

	return entry.wait(ctx)
}

func (c *Coordinator) run(trigger *pendingEntry) {
	if err := c.refresh(context.Background()); err != nil {
		c.fail(trigger, err)
		return
	}
	c.succeed(trigger)
}

// succeed replays the trigger first, then the queue in arrival order. Requests
// queued while replays are running are drained in the same pass.
func (c *Coordinator) succeed(trigger *pendingEntry) {
	c.session.SetAuthenticated()
	c.logger.Info("session refreshed")
	c.observer.RefreshSucceeded()

	for entry, ok := trigger, true; ok; entry, ok = c.next() {
		c.replayEntry(entry)
	}
}

func (c *Coordinator) replayEntry(e *pendingEntry) {
	if err := e.ctx.Err(); err != nil {
		e.resolve(nil, err)
		return
	}
	c.observer.RequestReplayed(e.req.Method, e.req.Path)
	e.resolve(c.replay(e.ctx, e.req))
}

// fail clears the session, redirects to sign-in and rejects every waiter with
// the refresh error.
func (c *Coordinator) fail(trigger *pendingEntry, err error) {
	rerr := &RefreshError{Err: err}

	c.session.ClearAuthenticated()
	if c.onFailure != nil {
		c.onFailure()
	}
	c.logger.Warn("session refresh failed", slog.String("error", err.Error()))
	c.observer.RefreshFailed(rerr)

	if c.nav != nil && c.nav.Location() != c.signInPath {
		c.nav.Navigate(c.signInPath)
	}

	for entry, ok := trigger, true; ok; entry, ok = c.next() {
		entry.resolve(nil, rerr)
	}
}

// next pops the queue head, returning to Idle once the queue is empty.
func (c *Coordinator) next() (*pendingEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.queue.pop()
	if !ok {
		c.state = Idle
	}
	return e, ok
}
