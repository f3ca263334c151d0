// storage/backup.go
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremymoreau/covid19mtl/utils"
)

// BackupManager copies the processed directory to root/<today>[_vN] before tables are mutated.
type BackupManager struct {
	ProcessedDir string
	Root         string
	Logger       *utils.Logger
}

// Backup copies every processed table into a fresh versioned directory for today.
func (b *BackupManager) Backup(today string) (string, error) {
	dir, _, err := ClaimVersionedDir(b.Root, today)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	entries, err := os.ReadDir(b.ProcessedDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return dir, fmt.Errorf("backup: list %s: %w", b.ProcessedDir, err)
	}
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := copyFile(filepath.Join(b.ProcessedDir, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return dir, fmt.Errorf("backup: %w", err)
		}
		n++
	}
	b.Logger.Info("[backup] copied %d processed files to %s", n, dir)
	return dir, nil
}

// BackupOnce backs up only if today's un-versioned backup does not exist yet.
// It reports whether a backup was made.
func (b *BackupManager) BackupOnce(today string) (string, bool, error) {
	existing := filepath.Join(b.Root, today)
	if _, err := os.Stat(existing); err == nil {
		b.Logger.Debug("[backup] %s already exists, skipping", existing)
		return existing, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("backup: stat %s: %w", existing, err)
	}
	dir, err := b.Backup(today)
	return dir, err == nil, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
