// utils/lock.go
package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another refresh holds the lock file.
var ErrLocked = errors.New("another refresh is active")

// FileLock is a cross-process lock backed by an exclusively created file.
// A lock file older than TTL is treated as stale and removed.
type FileLock struct {
	Path string
	TTL  time.Duration
}

// Acquire takes the lock or returns ErrLocked.
func (l FileLock) Acquire() error {
	path, err := filepath.Abs(l.Path)
	if err != nil {
		return fmt.Errorf("resolve lock path %s: %w", l.Path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	for i := 0; i < 3; i++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			return f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock file %s: %w", path, err)
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if l.TTL > 0 && time.Since(fi.ModTime()) >= l.TTL {
			_ = os.Remove(path)
			continue
		}
		return fmt.Errorf("%w (lock file %s)", ErrLocked, path)
	}
	return fmt.Errorf("%w (lock file %s)", ErrLocked, path)
}

// Release removes the lock file.
func (l FileLock) Release() {
	if l.Path == "" {
		return
	}
	_ = os.Remove(l.Path)
}
