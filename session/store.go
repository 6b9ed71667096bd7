// Package session holds the dashboard's "is a session authenticated" flag.
//
// The flag is the only piece of session state kept on the client; the session
// itself lives in a server-side cookie. Stores are safe for concurrent use.
package session

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
)

const (
	// KeyAuthenticated is the persisted flag's key.
	KeyAuthenticated = "authenticated"
	// KeyCookies holds the session cookies as name/value pairs.
	KeyCookies = "cookies"
)

// LegacyKeys are credential markers written by older dashboard versions.
// Clearing a session removes them so stale data cannot revive it.
var LegacyKeys = []string{"access_token", "refresh_token", "token", "user"}

// Store is the session flag. Implementations never fail: persistence errors
// are logged and the in-process value stays authoritative.
type Store interface {
	IsAuthenticated() bool
	SetAuthenticated()
	ClearAuthenticated()
}

// MemoryStore keeps the flag in memory only.
type MemoryStore struct {
	mu            sync.RWMutex
	authenticated bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *MemoryStore) SetAuthenticated() {
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
}

func (s *MemoryStore) ClearAuthenticated() {
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()
}

func discardLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}

func cookieMap(cookies []*http.Cookie) map[string]string {
	if len(cookies) == 0 {
		return nil
	}
	m := make(map[string]string, len(cookies))
	for _, c := range cookies {
		m[c.Name] = c.Value
	}
	return m
}

func cookieList(m map[string]string) []*http.Cookie {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, &http.Cookie{Name: name, Value: m[name]})
	}
	return cookies
}
