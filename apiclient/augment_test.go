package apiclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAugmenter_ValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"http", "http://localhost:8000", false},
		{"https with path", "https://dash.example.com/app", false},
		{"missing scheme", "localhost:8000", true},
		{"ftp", "ftp://example.com", true},
		{"no host", "http://", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAugmenter(tt.baseURL, DefaultAPIPrefix, 0, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAugmenter_URL(t *testing.T) {
	a, err := NewAugmenter("https://dash.example.com/app", "api/v1/", 0, nil)
	require.NoError(t, err)

	u, err := a.URL("/portfolio/holdings?page=2", url.Values{"sort": {"value"}})
	require.NoError(t, err)
	assert.Equal(t, "https://dash.example.com/app/api/v1/portfolio/holdings?page=2&sort=value", u.String())

	_, err = a.URL("https://evil.example.com/steal", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAugmenter_Augment(t *testing.T) {
	a, err := NewAugmenter("http://localhost:8000", DefaultAPIPrefix, 0, StaticToken("csrf-abc"))
	require.NoError(t, err)

	req, err := NewRequest(http.MethodPost, "/portfolio/watchlist", map[string]string{"symbol": "ACME"})
	require.NoError(t, err)

	before := time.Now()
	httpReq, cancel, err := a.Augment(context.Background(), req)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, "http://localhost:8000/api/v1/portfolio/watchlist", httpReq.URL.String())
	assert.Equal(t, "application/json", httpReq.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", httpReq.Header.Get("Accept"))
	assert.Equal(t, "csrf-abc", httpReq.Header.Get(HeaderCSRFToken))
	assert.Equal(t, req.ID(), httpReq.Header.Get(HeaderRequestID))

	deadline, ok := httpReq.Context().Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(DefaultTimeout), deadline, time.Second)

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"ACME"}`, string(body))
}

func TestAugmenter_CallerHeadersAndTimeoutWin(t *testing.T) {
	a, err := NewAugmenter("http://localhost:8000", DefaultAPIPrefix, 0, nil)
	require.NoError(t, err)

	req := &Request{
		Method:  http.MethodPost,
		Path:    "/auth/login",
		Header:  http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Timeout: 2 * time.Second,
	}
	before := time.Now()
	httpReq, cancel, err := a.Augment(context.Background(), req)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, "application/x-www-form-urlencoded", httpReq.Header.Get("Content-Type"))
	assert.Empty(t, httpReq.Header.Get(HeaderCSRFToken), "no token, no header")

	deadline, ok := httpReq.Context().Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(2*time.Second), deadline, time.Second)
}

func TestAugmenter_RejectsMissingMethod(t *testing.T) {
	a, err := NewAugmenter("http://localhost:8000", DefaultAPIPrefix, 0, nil)
	require.NoError(t, err)

	_, _, err = a.Augment(context.Background(), &Request{Path: "/portfolio/holdings"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
