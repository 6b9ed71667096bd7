package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// locker coordinates writers of the same session file across processes with
// an exclusive "<file>.lock" sibling.
type locker struct {
	attempts   int
	delay      time.Duration
	staleAfter time.Duration
}

var defaultLocker = locker{
	attempts:   50,
	delay:      100 * time.Millisecond,
	staleAfter: 30 * time.Second,
}

type fileLock struct {
	f    *os.File
	path string
}

// acquire takes the lock for filePath, breaking locks older than staleAfter.
func (l locker) acquire(ctx context.Context, filePath string) (*fileLock, error) {
	lockPath := filePath + ".lock"

	for i := 0; i < l.attempts; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// owner pid, for whoever has to debug a stuck lock
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			return &fileLock{f: f, path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > l.staleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !errors.Is(remErr, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.delay):
		}
	}

	return nil, fmt.Errorf(
		"timeout waiting for file lock after %v",
		time.Duration(l.attempts)*l.delay,
	)
}

func (fl *fileLock) release() error {
	if fl.f != nil {
		fl.f.Close()
		fl.f = nil
	}
	return os.Remove(fl.path)
}
