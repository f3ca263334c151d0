// storage/archiver.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// ErrFileExists is returned when a snapshot directory already holds a file
// being archived. Snapshots are write-once.
var ErrFileExists = errors.New("file already exists in snapshot")

// ErrNoSnapshot is returned when no snapshot exists for a date.
var ErrNoSnapshot = errors.New("no snapshot for date")

// Archiver stores fetched documents under root/<date>[_vN]/<name>.
type Archiver struct {
	Root   string
	Logger *utils.Logger
}

// Archive writes files into a fresh snapshot directory for date.
func (a *Archiver) Archive(date string, files []models.File) (models.Snapshot, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return models.Snapshot{}, fmt.Errorf("archive: invalid date %q: %w", date, err)
	}
	dir, version, err := ClaimVersionedDir(a.Root, date)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("archive %s: %w", date, err)
	}
	snap := models.Snapshot{Dir: dir, Date: date, Version: version}
	for _, f := range files {
		if err := writeOnce(filepath.Join(dir, f.Name), f.Content); err != nil {
			return snap, err
		}
		snap.Files = append(snap.Files, f.Name)
	}
	a.Logger.Info("[archive] saved %d files to %s", len(files), dir)
	return snap, nil
}

func writeOnce(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// LatestForDate returns the highest-versioned snapshot of date.
func (a *Archiver) LatestForDate(date string) (models.Snapshot, error) {
	return a.LatestContaining(date, nil)
}

// LatestContaining returns the highest-versioned snapshot of date that holds
// every named file. Families archive separately, so one date can have several
// snapshots with different contents.
func (a *Archiver) LatestContaining(date string, names []string) (models.Snapshot, error) {
	vs, err := versions(a.Root, date)
	if err != nil {
		return models.Snapshot{}, err
	}
	for i := len(vs) - 1; i >= 0; i-- {
		snap, err := a.snapshotAt(date, vs[i])
		if err != nil {
			return models.Snapshot{}, err
		}
		if containsAll(snap.Files, names) {
			return snap, nil
		}
	}
	return models.Snapshot{}, fmt.Errorf("%w %s in %s", ErrNoSnapshot, date, a.Root)
}

func (a *Archiver) snapshotAt(date string, v int) (models.Snapshot, error) {
	dir := filepath.Join(a.Root, versionedName(date, v))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("list snapshot %s: %w", dir, err)
	}
	snap := models.Snapshot{Dir: dir, Date: date, Version: v}
	for _, e := range entries {
		if e.Type().IsRegular() {
			snap.Files = append(snap.Files, e.Name())
		}
	}
	sort.Strings(snap.Files)
	return snap, nil
}

func containsAll(sorted, names []string) bool {
	for _, n := range names {
		if i := sort.SearchStrings(sorted, n); i == len(sorted) || sorted[i] != n {
			return false
		}
	}
	return true
}
