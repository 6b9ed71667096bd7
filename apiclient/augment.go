package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport defaults applied to every call.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultAPIPrefix = "/api/v1"

	HeaderCSRFToken = "X-CSRF-Token"
	HeaderRequestID = "X-Request-Id"
)

// Augmenter turns a bare Request into a dispatchable *http.Request: base
// address and API prefix, timeout, JSON content headers, anti-forgery token and
// request id. Credentials travel through the client's cookie jar.
type Augmenter struct {
	base    *url.URL
	prefix  string
	timeout time.Duration
	tokens  TokenSource
}

// NewAugmenter validates baseURL and returns an Augmenter for it.
// A nil TokenSource disables the anti-forgery header.
func NewAugmenter(baseURL, prefix string, timeout time.Duration, tokens TokenSource) (*Augmenter, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("base URL must include a host")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	return &Augmenter{
		base:    u,
		prefix:  "/" + strings.Trim(prefix, "/"),
		timeout: timeout,
		tokens:  tokens,
	}, nil
}

// URL resolves a request path under the base address and API prefix.
func (a *Augmenter) URL(path string, query url.Values) (*url.URL, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if rel.IsAbs() || rel.Host != "" {
		return nil, fmt.Errorf("%w: path must be relative, got %s", ErrInvalidRequest, path)
	}

	u := a.base.JoinPath(a.prefix, rel.Path)
	q := rel.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// Augment builds the outgoing request. The returned cancel func releases the
// per-call timeout and must be called once the response body has been read.
func (a *Augmenter) Augment(ctx context.Context, req *Request) (*http.Request, context.CancelFunc, error) {
	if req.Method == "" {
		return nil, nil, fmt.Errorf("%w: missing method", ErrInvalidRequest)
	}
	u, err := a.URL(req.Path, req.Query)
	if err != nil {
		return nil, nil, err
	}

	timeout := a.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, u.String(), req.bodyReader())
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if token := a.tokens.CSRFToken(); token != "" {
		httpReq.Header.Set(HeaderCSRFToken, token)
	}
	httpReq.Header.Set(HeaderRequestID, req.ID())

	return httpReq, cancel, nil
}
