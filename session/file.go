package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
)

// FileStore persists the flag in a JSON key/value file so it survives
// restarts. Other keys in the file are preserved.
type FileStore struct {
	path   string
	logger *slog.Logger
	locker locker

	mu            sync.Mutex
	authenticated bool
	cookies       map[string]string
}

// NewFileStore opens the store at path. A missing or unreadable file means
// signed out.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	s := &FileStore{
		path:   path,
		logger: discardLogger(logger),
		locker: defaultLocker,
	}

	values, err := s.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to read session file", slog.String("path", path), slog.Any("error", err))
	}
	if v, ok := values[KeyAuthenticated].(bool); ok {
		s.authenticated = v
	}
	if raw, ok := values[KeyCookies].(map[string]any); ok {
		s.cookies = make(map[string]string, len(raw))
		for name, v := range raw {
			if value, ok := v.(string); ok {
				s.cookies[name] = value
			}
		}
	}
	return s
}

func (s *FileStore) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *FileStore) SetAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.persist(func(values map[string]any) {
		values[KeyAuthenticated] = true
	})
}

func (s *FileStore) ClearAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
	s.cookies = nil
	s.persist(func(values map[string]any) {
		delete(values, KeyAuthenticated)
		delete(values, KeyCookies)
		for _, k := range LegacyKeys {
			delete(values, k)
		}
	})
}

// LoadCookies returns the cookies saved by the last run.
func (s *FileStore) LoadCookies() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cookieList(s.cookies)
}

// SaveCookies replaces the saved cookies; an empty list removes them.
func (s *FileStore) SaveCookies(cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = cookieMap(cookies)
	s.persist(func(values map[string]any) {
		if len(s.cookies) == 0 {
			delete(values, KeyCookies)
			return
		}
		values[KeyCookies] = s.cookies
	})
}

func (s *FileStore) persist(mutate func(map[string]any)) {
	if err := s.update(mutate); err != nil {
		s.logger.Warn("failed to persist session flag", slog.String("path", s.path), slog.Any("error", err))
	}
}

func (s *FileStore) read() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return values, nil
}

// update applies mutate to the file contents under the file lock and writes
// the result atomically.
func (s *FileStore) update(mutate func(map[string]any)) error {
	lock, err := s.locker.acquire(context.Background(), s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			s.logger.Warn("failed to release lock", slog.Any("error", releaseErr))
		}
	}()

	values, err := s.read()
	if err != nil || values == nil {
		values = make(map[string]any)
	}
	mutate(values)

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
