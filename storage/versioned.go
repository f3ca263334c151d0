// storage/versioned.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ClaimVersionedDir creates root/<tag>, or root/<tag>_v<N> with the smallest
// N >= 2 that does not exist yet. The directory is claimed with os.Mkdir, so
// two claimants can never receive the same path.
func ClaimVersionedDir(root, tag string) (string, int, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", 0, fmt.Errorf("create %s: %w", root, err)
	}
	for v := 1; ; v++ {
		path := filepath.Join(root, versionedName(tag, v))
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, v, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", 0, fmt.Errorf("create %s: %w", path, err)
		}
	}
}

func versionedName(tag string, version int) string {
	if version <= 1 {
		return tag
	}
	return fmt.Sprintf("%s_v%d", tag, version)
}

// parseVersion returns the version of a directory name for tag.
func parseVersion(name, tag string) (int, bool) {
	if name == tag {
		return 1, true
	}
	rest, ok := strings.CutPrefix(name, tag+"_v")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil || v < 2 {
		return 0, false
	}
	return v, true
}

// versions lists the existing versions of tag under root in ascending order.
func versions(root, tag string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, ok := parseVersion(e.Name(), tag); ok {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out, nil
}
