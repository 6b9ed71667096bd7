package apiclient

import "sync"

// DefaultSignInPath is where callers are sent after a terminal refresh failure.
const DefaultSignInPath = "/login"

// Navigator is the application's current location and the means to change it.
type Navigator interface {
	Location() string
	Navigate(path string)
}

// SessionStore is the persisted "is a session authenticated" flag.
type SessionStore interface {
	IsAuthenticated() bool
	SetAuthenticated()
	ClearAuthenticated()
}

// MemoryNavigator records navigations in memory.
type MemoryNavigator struct {
	mu       sync.Mutex
	location string
	history  []string
}

func NewMemoryNavigator(start string) *MemoryNavigator {
	return &MemoryNavigator{location: start}
}

func (n *MemoryNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

func (n *MemoryNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = path
	n.history = append(n.history, path)
}

// History returns every path navigated to, oldest first.
func (n *MemoryNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}
