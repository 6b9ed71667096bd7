package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/folioboard/dashboard-cli/session"
)

const sessionCookie = "sid"

// fakeAPI is a dashboard API whose session can be expired on demand.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.Mutex
	validSID   string
	served     []string // protected paths answered with 200, in order
	methods    []string // "METHOD path" for the same requests
	headers    []http.Header
	refreshErr int // status returned by refresh; 0 means success

	refreshes     atomic.Int32
	unauthorized  atomic.Int32
	protectedHits atomic.Int32

	// refreshEntered is signalled when a refresh call arrives; refreshGate,
	// when set, holds the refresh until closed.
	refreshEntered chan struct{}
	refreshGate    chan struct{}
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		t:              t,
		validSID:       "s1",
		refreshEntered: make(chan struct{}, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", api.login)
	mux.HandleFunc("POST /api/v1/auth/refresh", api.refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", api.logout)
	mux.HandleFunc("/api/v1/portfolio/", api.protected)

	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) URL() string { return a.server.URL }

// expire invalidates every issued session cookie.
func (a *fakeAPI) expire() {
	a.mu.Lock()
	a.validSID = "never-issued"
	a.mu.Unlock()
}

func (a *fakeAPI) failRefreshWith(status int) {
	a.mu.Lock()
	a.refreshErr = status
	a.mu.Unlock()
}

func (a *fakeAPI) gateRefresh() chan struct{} {
	a.refreshGate = make(chan struct{})
	return a.refreshGate
}

func (a *fakeAPI) servedPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.served...)
}

func (a *fakeAPI) servedMethods() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.methods...)
}

func (a *fakeAPI) lastHeaders() http.Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.headers) == 0 {
		return nil
	}
	return a.headers[len(a.headers)-1]
}

func (a *fakeAPI) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if r.FormValue("username") != "alice" || r.FormValue("password") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	a.mu.Lock()
	a.validSID = "s1"
	a.headers = append(a.headers, r.Header.Clone())
	a.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "s1", Path: "/"})
	w.WriteHeader(http.StatusOK)
}

func (a *fakeAPI) refresh(w http.ResponseWriter, r *http.Request) {
	a.refreshes.Add(1)
	a.refreshEntered <- struct{}{}
	if a.refreshGate != nil {
		select {
		case <-a.refreshGate:
		case <-time.After(5 * time.Second):
			a.t.Errorf("refresh gate was never opened")
		}
	}

	a.mu.Lock()
	status := a.refreshErr
	if status == 0 {
		a.validSID = "fresh"
	}
	a.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "fresh", Path: "/"})
	w.WriteHeader(http.StatusNoContent)
}

func (a *fakeAPI) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (a *fakeAPI) protected(w http.ResponseWriter, r *http.Request) {
	a.protectedHits.Add(1)
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")

	if status, ok := fixedStatus[path]; ok {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"detail":"fixed"}`))
		return
	}

	cookie, err := r.Cookie(sessionCookie)
	a.mu.Lock()
	valid := err == nil && cookie.Value == a.validSID
	if valid {
		a.served = append(a.served, path)
		a.methods = append(a.methods, r.Method+" "+path)
		a.headers = append(a.headers, r.Header.Clone())
	}
	a.mu.Unlock()

	if !valid {
		a.unauthorized.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"path": path})
}

// fixedStatus maps protected paths to a status they always return.
var fixedStatus = map[string]int{
	"/portfolio/locked":    http.StatusUnauthorized,
	"/portfolio/forbidden": http.StatusForbidden,
	"/portfolio/missing":   http.StatusNotFound,
	"/portfolio/conflict":  http.StatusConflict,
	"/portfolio/broken":    http.StatusInternalServerError,
	"/portfolio/gateway":   http.StatusBadGateway,
	"/portfolio/throttled": http.StatusTooManyRequests,
}

// recordingObserver exposes pipeline events to tests.
type recordingObserver struct {
	NoopObserver
	queued   chan string
	replayed chan string
	started  atomic.Int32
	failed   atomic.Int32
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		queued:   make(chan string, 64),
		replayed: make(chan string, 64),
	}
}

func (o *recordingObserver) RefreshStarted() { o.started.Add(1) }

func (o *recordingObserver) RefreshFailed(_ error) { o.failed.Add(1) }

func (o *recordingObserver) RequestReplayed(_, path string) { o.replayed <- path }

func (o *recordingObserver) RequestQueued(_, path string, _ int) { o.queued <- path }

func (o *recordingObserver) waitQueued(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-o.queued:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for queued request %d of %d", i+1, n)
		}
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type testClient struct {
	*Client
	api   *fakeAPI
	store *session.MemoryStore
	nav   *MemoryNavigator
	obs   *recordingObserver
}

// newTestClient returns a client whose session is marked authenticated but
// holds no cookie, i.e. an expired session.
func newTestClient(t *testing.T, opts ...Option) *testClient {
	t.Helper()
	api := newFakeAPI(t)
	store := session.NewMemoryStore()
	store.SetAuthenticated()
	nav := NewMemoryNavigator("/dashboard")
	obs := newRecordingObserver()

	opts = append([]Option{WithNavigator(nav), WithObserver(obs), WithLoginRetries(0)}, opts...)
	c, err := New(api.URL(), store, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testClient{Client: c, api: api, store: store, nav: nav, obs: obs}
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.State() != Idle {
		if time.Now().After(deadline) {
			t.Fatalf("coordinator still %s", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
