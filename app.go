package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/folioboard/dashboard-cli/apiclient"
	"github.com/folioboard/dashboard-cli/session"
	"github.com/folioboard/dashboard-cli/tui"
)

const (
	cmdLoad   = "load"
	cmdLogin  = "login"
	cmdLogout = "logout"
	cmdStatus = "status"

	dashboardPath  = "/dashboard"
	redisKeyPrefix = "dashboard:session:"
	redisPingWait  = 2 * time.Second
)

// errSignInRequired means the user has to run the login command.
var errSignInRequired = errors.New("sign-in required")

// shownError wraps an error the displayer has already reported.
type shownError struct{ error }

func (e shownError) Unwrap() error { return e.error }

// widget is one dashboard panel backed by a protected endpoint.
type widget struct {
	name string
	path string
}

var dashboardWidgets = []widget{
	{name: "Holdings", path: "/portfolio/holdings"},
	{name: "Risk", path: "/portfolio/risk"},
	{name: "Insights", path: "/portfolio/insights"},
	{name: "Summary", path: "/portfolio/summary"},
}

// cliNavigator records navigations and tells the user when they are sent to
// the sign-in route.
type cliNavigator struct {
	*apiclient.MemoryNavigator
	signInPath string
	d          tui.Displayer
}

func (n *cliNavigator) Navigate(path string) {
	n.MemoryNavigator.Navigate(path)
	if path == n.signInPath {
		n.d.SignInRequired(path)
	}
}

// app wires the session store, the api client and the displayer for one
// command.
type app struct {
	cfg    *config
	d      tui.Displayer
	log    *slog.Logger
	store  session.Store
	nav    *cliNavigator
	client *apiclient.Client

	closers []func()
}

func newApp(ctx context.Context, cfg *config, d tui.Displayer, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, d: d, log: log}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.nav = &cliNavigator{
		MemoryNavigator: apiclient.NewMemoryNavigator(dashboardPath),
		signInPath:      apiclient.DefaultSignInPath,
		d:               d,
	}

	meta := &apiclient.MetaTokenSource{}
	var tokens apiclient.TokenSource
	switch {
	case cfg.csrfToken != "":
		tokens = apiclient.StaticToken(cfg.csrfToken)
	case cfg.csrfPage != "":
		tokens = meta
	}

	opts := []apiclient.Option{
		apiclient.WithAPIPrefix(cfg.apiPrefix),
		apiclient.WithTimeout(cfg.timeout),
		apiclient.WithTokenSource(tokens),
		apiclient.WithNavigator(a.nav),
		apiclient.WithSignInPath(apiclient.DefaultSignInPath),
		apiclient.WithLogger(log),
		apiclient.WithObserver(d),
		apiclient.WithLoginRetries(cfg.loginRetries),
	}
	if cs, ok := store.(apiclient.CookieStore); ok {
		opts = append(opts, apiclient.WithCookieStore(cs))
	}

	client, err := apiclient.New(cfg.serverURL, store, opts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}
	a.client = client

	if tokens == meta {
		a.loadPageToken(ctx, meta)
	}
	return a, nil
}

// openStore picks the Redis store when REDIS_URL is set, the file store
// otherwise.
func (a *app) openStore(ctx context.Context) (session.Store, error) {
	if a.cfg.redisURL == "" {
		return session.NewFileStore(a.cfg.sessionFile, a.log), nil
	}

	opts, err := redis.ParseURL(a.cfg.redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, redisPingWait)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.log.Warn("redis unreachable, session state may be stale", slog.Any("error", err))
	}
	return session.NewRedisStore(rdb, redisKeyPrefix, a.log), nil
}

// loadPageToken reads the anti-forgery token. Requests still go out without
// it when the page cannot be read.
func (a *app) loadPageToken(ctx context.Context, meta *apiclient.MetaTokenSource) {
	pageURL, err := resolvePage(a.cfg.serverURL, a.cfg.csrfPage)
	if err == nil {
		reqCtx, cancel := context.WithTimeout(ctx, a.cfg.timeout)
		err = meta.Fetch(reqCtx, a.client.HTTPClient(), pageURL)
		cancel()
	}
	if err != nil {
		a.log.Warn("failed to load anti-forgery token", slog.String("page", a.cfg.csrfPage), slog.Any("error", err))
		return
	}
	if meta.CSRFToken() == "" {
		a.log.Warn("page has no csrf-token meta tag", slog.String("page", pageURL))
	}
}

// resolvePage resolves page against the server URL; absolute URLs pass through.
func resolvePage(serverURL, page string) (string, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("invalid CSRF_PAGE: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) dispatch(ctx context.Context, command string) error {
	switch command {
	case cmdLoad:
		return a.load(ctx)
	case cmdLogin:
		return a.login(ctx)
	case cmdLogout:
		return a.logout(ctx)
	case cmdStatus:
		return a.status(ctx)
	default:
		return fmt.Errorf("unknown command %q (want %s)", command,
			strings.Join([]string{cmdLoad, cmdLogin, cmdLogout, cmdStatus}, ", "))
	}
}

func (a *app) login(ctx context.Context) error {
	if a.cfg.user == "" || a.cfg.password == "" {
		return errors.New("DASHBOARD_USER and DASHBOARD_PASSWORD are required to sign in")
	}

	a.d.LoggingIn(a.cfg.user)
	if err := a.client.Login(ctx, a.cfg.user, a.cfg.password); err != nil {
		a.d.LoginFailed(err)
		return shownError{err}
	}
	a.d.LoginOK()
	return nil
}

// logout always succeeds locally; a failed server call is only reported.
func (a *app) logout(ctx context.Context) error {
	a.d.LoggedOut(a.client.Logout(ctx))
	return nil
}

func (a *app) status(ctx context.Context) error {
	if !a.store.IsAuthenticated() {
		a.d.Status(false, "")
		return nil
	}

	var me struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := a.client.GetJSON(ctx, apiclient.MePath, &me); err != nil {
		if isSignInError(err) {
			a.d.Status(false, "")
			return errSignInRequired
		}
		return err
	}

	who := me.Name
	if who == "" {
		who = me.Username
	}
	a.d.Status(true, who)
	return nil
}

// load fetches every widget concurrently. Expired sessions are recovered by
// the client; a widget failure never stops its siblings.
func (a *app) load(ctx context.Context) error {
	if a.store.IsAuthenticated() {
		a.d.SessionFound()
	} else {
		a.d.SessionMissing()
		if a.cfg.user == "" || a.cfg.password == "" {
			a.nav.Navigate(a.nav.signInPath)
			return errSignInRequired
		}
		if err := a.login(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	var loaded, failed atomic.Int32
	var g errgroup.Group
	for _, w := range dashboardWidgets {
		g.Go(func() error {
			a.d.WidgetLoading(w.name)

			var payload json.RawMessage
			if err := a.client.GetJSON(ctx, w.path, &payload); err != nil {
				failed.Add(1)
				a.d.WidgetFailed(w.name, err)
				if isSignInError(err) {
					return errSignInRequired
				}
				return nil
			}
			loaded.Add(1)
			a.d.WidgetLoaded(w.name, summarize(payload))
			return nil
		})
	}
	err := g.Wait()

	a.d.Done(int(loaded.Load()), int(failed.Load()), time.Since(start))
	return err
}

func isSignInError(err error) bool {
	return errors.Is(err, apiclient.ErrSessionExpired) || errors.Is(err, apiclient.ErrNotAuthenticated)
}

// summarize describes an opaque widget payload in a few words.
func summarize(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "unreadable payload"
	}

	switch t := v.(type) {
	case nil:
		return "empty"
	case []any:
		return plural(len(t), "item")
	case map[string]any:
		for _, key := range []string{"items", "holdings", "insights", "data"} {
			if list, ok := t[key].([]any); ok {
				return plural(len(list), "item")
			}
		}
		return plural(len(t), "field")
	default:
		return fmt.Sprint(t)
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
