// Package apiclient is the authenticated HTTP client used by the dashboard.
//
// Every call is augmented with the base address, timeout, JSON headers,
// anti-forgery token and session cookies. A first 401 on a protected call is
// handed to a single-flight Coordinator that refreshes the session once for a
// whole burst of expired requests and replays them in arrival order; if the
// refresh fails, the session is cleared and the navigator is sent to sign-in.
package apiclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	retry "github.com/appleboy/go-httpretry"
)

// Auth endpoints, relative to the API prefix.
const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"
	MePath      = "/auth/me"
)

type options struct {
	prefix       string
	timeout      time.Duration
	tokens       TokenSource
	nav          Navigator
	signInPath   string
	logger       *slog.Logger
	observer     Observer
	httpClient   *http.Client
	cookies      CookieStore
	loginRetries int
}

// Option configures a Client.
type Option func(*options)

func WithAPIPrefix(prefix string) Option { return func(o *options) { o.prefix = prefix } }

func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

func WithTokenSource(ts TokenSource) Option { return func(o *options) { o.tokens = ts } }

func WithNavigator(nav Navigator) Option { return func(o *options) { o.nav = nav } }

func WithSignInPath(path string) Option { return func(o *options) { o.signInPath = path } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithObserver(obs Observer) Option { return func(o *options) { o.observer = obs } }

// WithHTTPClient sets the base client. Its Jar is replaced by the session jar.
func WithHTTPClient(hc *http.Client) Option { return func(o *options) { o.httpClient = hc } }

// WithCookieStore persists session cookies so a later run resumes the session.
func WithCookieStore(cs CookieStore) Option { return func(o *options) { o.cookies = cs } }

// WithLoginRetries sets how often a failed sign-in call is retried by the transport.
func WithLoginRetries(n int) Option { return func(o *options) { o.loginRetries = n } }

// Client is safe for concurrent use.
type Client struct {
	aug     *Augmenter
	jar     *sessionJar
	http    *http.Client
	session SessionStore
	coord   *Coordinator
	logger  *slog.Logger

	// dispatcher never retries, so the classifier sees the first outcome.
	dispatcher *retry.Client
	// loginDispatcher retries transient sign-in failures.
	loginDispatcher *retry.Client
}

// New creates a Client for baseURL backed by store.
func New(baseURL string, store SessionStore, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}

	o := options{
		prefix:       DefaultAPIPrefix,
		timeout:      DefaultTimeout,
		signInPath:   DefaultSignInPath,
		observer:     NoopObserver{},
		loginRetries: 2,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	aug, err := NewAugmenter(baseURL, o.prefix, o.timeout, o.tokens)
	if err != nil {
		return nil, err
	}

	scope, err := aug.URL("/", nil)
	if err != nil {
		return nil, err
	}
	jar, err := newSessionJar(scope, o.cookies)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	hc := defaultHTTPClient()
	if o.httpClient != nil {
		cp := *o.httpClient
		hc = &cp
	}
	hc.Jar = jar

	retryLog := retry.WithLogger(retry.NewSlogAdapter(o.logger))
	dispatcher, err := retry.NewClient(
		retry.WithHTTPClient(hc),
		retry.WithMaxRetries(0),
		retry.WithRetryableChecker(neverRetry),
		retryLog,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	loginDispatcher, err := retry.NewClient(
		retry.WithHTTPClient(hc),
		retry.WithMaxRetries(o.loginRetries),
		retryLog,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login dispatcher: %w", err)
	}

	c := &Client{
		aug:             aug,
		jar:             jar,
		http:            hc,
		session:         store,
		logger:          o.logger,
		dispatcher:      dispatcher,
		loginDispatcher: loginDispatcher,
	}
	c.coord = NewCoordinator(CoordinatorConfig{
		Refresh:           c.refresh,
		Replay:            c.Do,
		Session:           store,
		Navigator:         o.nav,
		SignInPath:        o.signInPath,
		OnTerminalFailure: jar.Reset,
		Observer:          o.observer,
		Logger:            o.logger,
	})
	return c, nil
}

// neverRetry hands every outcome straight back to the classifier.
func neverRetry(error, *http.Response) bool { return false }

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Coordinator exposes the refresh coordinator, mainly for inspection.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// HTTPClient returns the underlying client, sharing the session cookie jar.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Session returns the session store.
func (c *Client) Session() SessionStore { return c.session }

// Do dispatches req through the pipeline. Protected calls are refused without
// dispatch while signed out. A first 401 is recovered by the coordinator;
// every other failure is returned as *Error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if !req.Public && !c.session.IsAuthenticated() {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrNotAuthenticated)
	}
	return c.execute(ctx, c.dispatcher, req)
}

func (c *Client) execute(ctx context.Context, rc *retry.Client, req *Request) (*Response, error) {
	resp, err := c.dispatch(ctx, rc, req)
	if errors.Is(err, ErrInvalidRequest) {
		return nil, err
	}

	failure := Classify(resp, err, req.Retried)
	if failure.Kind == ExpiryFailure && req.Public {
		failure.Kind = ClientFailure
	}

	switch failure.Kind {
	case NoFailure:
		return resp, nil
	case ExpiryFailure:
		return c.coord.HandleExpiry(ctx, req)
	}

	c.logFailure(req, failure, err)
	return nil, &Error{
		Kind:       failure.Kind,
		StatusCode: failure.StatusCode,
		Method:     req.Method,
		Path:       req.Path,
		Response:   resp,
		Err:        err,
	}
}

func (c *Client) dispatch(ctx context.Context, rc *retry.Client, req *Request) (*Response, error) {
	httpReq, cancel, err := c.aug.Augment(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	resp, err := rc.DoWithContext(httpReq.Context(), httpReq)
	// Exhausted retries on a 5xx or 429 still carry the last response; the
	// classifier routes it by status.
	var exhausted *retry.RetryError
	if resp != nil && errors.As(err, &exhausted) && exhausted.LastErr == nil {
		err = nil
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Request:    req,
	}, nil
}

func (c *Client) logFailure(req *Request, f Failure, err error) {
	attrs := []any{
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("request_id", req.ID()),
	}
	switch {
	case f.Kind == NetworkFailure:
		c.logger.Warn("network failure", append(attrs, slog.Any("error", err))...)
	case f.Kind == ServerFailure:
		c.logger.Error("server failure", append(attrs, slog.Int("status", f.StatusCode))...)
	case f.StatusCode == http.StatusForbidden:
		c.logger.Warn("forbidden", attrs...)
	case f.StatusCode == http.StatusUnauthorized && req.Retried:
		c.logger.Warn("unauthorized after session refresh", attrs...)
	default:
		c.logger.Debug("client failure", append(attrs, slog.Int("status", f.StatusCode))...)
	}
}

func (c *Client) refresh(ctx context.Context) error {
	_, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: RefreshPath, Public: true})
	return err
}

// Login signs in with a form-encoded username and password. On success the
// server has set the session cookie and the session is marked authenticated.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req := &Request{
		Method: http.MethodPost,
		Path:   LoginPath,
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Body:   []byte(form.Encode()),
		Public: true,
	}
	if _, err := c.execute(ctx, c.loginDispatcher, req); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	c.session.SetAuthenticated()
	c.logger.Info("signed in", slog.String("username", username))
	return nil
}

// Logout signs out. The local session is cleared whatever the server answers;
// the returned error only reports the server call.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: LogoutPath, Public: true})

	c.session.ClearAuthenticated()
	c.jar.Reset()
	if err != nil {
		c.logger.Warn("logout call failed, local session cleared anyway", slog.Any("error", err))
		return fmt.Errorf("logout failed: %w", err)
	}
	c.logger.Info("signed out")
	return nil
}

// Get issues a GET for path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// GetJSON issues a GET for path and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return resp.DecodeJSON(v)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

// Delete issues a DELETE for path.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*Response, error) {
	req, err := NewRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}
