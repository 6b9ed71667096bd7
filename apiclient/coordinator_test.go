package apiclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folioboard/dashboard-cli/session"
)

// stubBackend counts refreshes and records replays for a Coordinator under test.
type stubBackend struct {
	gate       chan struct{}
	entered    chan struct{}
	refreshErr error

	refreshes atomic.Int32
	mu        sync.Mutex
	replayed  []*Request
}

func newStubBackend() *stubBackend {
	return &stubBackend{gate: make(chan struct{}), entered: make(chan struct{}, 8)}
}

func (b *stubBackend) refresh(context.Context) error {
	b.refreshes.Add(1)
	b.entered <- struct{}{}
	<-b.gate
	return b.refreshErr
}

func (b *stubBackend) replay(_ context.Context, req *Request) (*Response, error) {
	b.mu.Lock()
	b.replayed = append(b.replayed, req)
	b.mu.Unlock()
	return &Response{StatusCode: http.StatusOK, Request: req}, nil
}

func (b *stubBackend) replayedPaths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := make([]string, len(b.replayed))
	for i, r := range b.replayed {
		paths[i] = r.Path
	}
	return paths
}

func newTestCoordinator(b *stubBackend) (*Coordinator, *session.MemoryStore, *MemoryNavigator, *recordingObserver) {
	store := session.NewMemoryStore()
	store.SetAuthenticated()
	nav := NewMemoryNavigator("/dashboard")
	obs := newRecordingObserver()
	c := NewCoordinator(CoordinatorConfig{
		Refresh:   b.refresh,
		Replay:    b.replay,
		Session:   store,
		Navigator: nav,
		Observer:  obs,
	})
	return c, store, nav, obs
}

func getReq(path string) *Request {
	return &Request{Method: http.MethodGet, Path: path}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	b := newStubBackend()
	c, _, _, obs := newTestCoordinator(b)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			resp, err := c.HandleExpiry(context.Background(), getReq("/portfolio/holdings"))
			if err == nil && !resp.Request.Retried {
				err = errors.New("replayed request not marked retried")
			}
			errs <- err
		}()
	}

	waitSignal(t, b.entered, "refresh")
	obs.waitQueued(t, n-1)
	assert.Equal(t, Refreshing, c.State())
	assert.Equal(t, n-1, c.Pending())
	close(b.gate)

	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), b.refreshes.Load())
	assert.Len(t, b.replayedPaths(), n)
	waitIdle(t, c)
}

func TestCoordinator_DrainsInArrivalOrder(t *testing.T) {
	b := newStubBackend()
	c, _, _, obs := newTestCoordinator(b)

	done := make(chan error, 4)
	expire := func(path string) {
		go func() {
			_, err := c.HandleExpiry(context.Background(), getReq(path))
			done <- err
		}()
	}

	expire("T")
	waitSignal(t, b.entered, "refresh")
	for _, p := range []string{"A", "B", "C"} {
		expire(p)
		obs.waitQueued(t, 1)
	}
	close(b.gate)

	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, []string{"T", "A", "B", "C"}, b.replayedPaths())
}

func TestCoordinator_FailureRejectsAllAndRedirectsOnce(t *testing.T) {
	b := newStubBackend()
	b.refreshErr = errors.New("refresh rejected")

	var cookiesDropped atomic.Int32
	store := session.NewMemoryStore()
	store.SetAuthenticated()
	nav := NewMemoryNavigator("/dashboard")
	obs := newRecordingObserver()
	c := NewCoordinator(CoordinatorConfig{
		Refresh:           b.refresh,
		Replay:            b.replay,
		Session:           store,
		Navigator:         nav,
		OnTerminalFailure: func() { cookiesDropped.Add(1) },
		Observer:          obs,
	})

	const n = 3
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.HandleExpiry(context.Background(), getReq("/portfolio/risk"))
			errs <- err
		}()
	}
	waitSignal(t, b.entered, "refresh")
	obs.waitQueued(t, n-1)
	close(b.gate)

	for i := 0; i < n; i++ {
		err := <-errs
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.ErrorIs(t, err, b.refreshErr)
	}
	assert.Empty(t, b.replayedPaths())
	assert.False(t, store.IsAuthenticated())
	assert.Equal(t, []string{DefaultSignInPath}, nav.History())
	assert.Equal(t, int32(1), cookiesDropped.Load())
	waitIdle(t, c)
}

func TestCoordinator_AbandonedWaiterIsSkipped(t *testing.T) {
	b := newStubBackend()
	c, _, _, obs := newTestCoordinator(b)

	trigger := make(chan error, 1)
	go func() {
		_, err := c.HandleExpiry(context.Background(), getReq("T"))
		trigger <- err
	}()
	waitSignal(t, b.entered, "refresh")

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := c.HandleExpiry(ctx, getReq("gone"))
		abandoned <- err
	}()
	obs.waitQueued(t, 1)
	cancel()
	assert.ErrorIs(t, <-abandoned, context.Canceled)

	close(b.gate)
	require.NoError(t, <-trigger)

	waitIdle(t, c)
	assert.Equal(t, []string{"T"}, b.replayedPaths())
}

func TestCoordinator_CallerCancellationDoesNotCancelRefresh(t *testing.T) {
	b := newStubBackend()
	c, store, _, _ := newTestCoordinator(b)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := c.HandleExpiry(ctx, getReq("T"))
		result <- err
	}()
	waitSignal(t, b.entered, "refresh")
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)
	assert.Equal(t, Refreshing, c.State())

	close(b.gate)
	waitIdle(t, c)
	assert.True(t, store.IsAuthenticated())
}

func TestCoordinator_RefreshesAgainAfterSettling(t *testing.T) {
	b := newStubBackend()
	close(b.gate)
	c, _, _, _ := newTestCoordinator(b)

	for i := 0; i < 2; i++ {
		_, err := c.HandleExpiry(context.Background(), getReq("/portfolio/summary"))
		require.NoError(t, err)
		<-b.entered
		waitIdle(t, c)
	}
	assert.Equal(t, int32(2), b.refreshes.Load())
}
