package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Request describes one logical API call before augmentation.
// Only Retried changes after creation, and only through markRetried.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    []byte
	Timeout time.Duration // zero means the client default

	// Retried is set once the request has been replayed after a session refresh.
	Retried bool

	// Public requests (sign-in, refresh, sign-out) skip the session guard and
	// are never routed to the refresh coordinator.
	Public bool

	id string
}

// NewRequest builds a Request with an optional JSON body.
func NewRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, Path: path, Header: make(http.Header)}
	if body == nil {
		return req, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req.Body = data
	return req, nil
}

// ID returns the correlation id carried in X-Request-Id.
func (r *Request) ID() string {
	if r.id == "" {
		r.id = uuid.NewString()
	}
	return r.id
}

// markRetried returns a copy flagged for replay. The copy keeps the request id
// so the replay can be matched with the original dispatch.
func (r *Request) markRetried() *Request {
	cp := *r
	cp.id = r.ID()
	cp.Header = r.Header.Clone()
	cp.Retried = true
	return &cp
}

func (r *Request) bodyReader() io.Reader {
	if len(r.Body) == 0 {
		return nil
	}
	return bytes.NewReader(r.Body)
}

// Response is a completed HTTP exchange with its body already buffered.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Request    *Request
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
