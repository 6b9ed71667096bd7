package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// TokenSource supplies the anti-forgery token forwarded as X-CSRF-Token.
// An empty token means no header is sent.
type TokenSource interface {
	CSRFToken() string
}

// StaticToken is a fixed anti-forgery token.
type StaticToken string

func (t StaticToken) CSRFToken() string { return string(t) }

// metaTokenNames are the meta tag names that carry the token in the page.
var metaTokenNames = []string{"csrf-token", "csrf_token", "_csrf"}

// ParseMetaToken returns the content of the first csrf meta tag in an HTML
// document, or "" when the page has none.
func ParseMetaToken(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return "", nil
			}
			return "", fmt.Errorf("failed to parse page: %w", z.Err())

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			var name, content string
			for _, attr := range tok.Attr {
				switch strings.ToLower(attr.Key) {
				case "name":
					name = strings.ToLower(attr.Val)
				case "content":
					content = attr.Val
				}
			}
			for _, n := range metaTokenNames {
				if name == n {
					return content, nil
				}
			}
		}
	}
}

// MetaTokenSource holds the token read from a page's csrf meta tag.
type MetaTokenSource struct {
	mu    sync.RWMutex
	token string
}

func (m *MetaTokenSource) CSRFToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Load reads the token from an HTML document, replacing any previous value.
func (m *MetaTokenSource) Load(r io.Reader) error {
	token, err := ParseMetaToken(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

// Fetch downloads pageURL with hc and loads its token.
func (m *MetaTokenSource) Fetch(ctx context.Context, hc *http.Client, pageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create page request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("page request failed with status %d", resp.StatusCode)
	}
	return m.Load(resp.Body)
}
