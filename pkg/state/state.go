package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Paths holds the canonical runtime folder layout under the DB path.
type Paths struct {
	Store     string
	Crash     string
	Abort     string
	Telemetry string
	Tmp       string
}

var (
	pathsMu  sync.RWMutex
	pathsVar Paths
)

// Dirs returns the resolved runtime paths. Zero until EnsureStateDirs ran.
func Dirs() Paths {
	pathsMu.RLock()
	defer pathsMu.RUnlock()
	return pathsVar
}

// EnsureStateDirs ensures the canonical runtime folder layout exists under
// the provided DB path. It verifies paths are not symlinks and have
// restrictive permissions, and that they are writable by the process.
func EnsureStateDirs(dbPath string) error {
	p := Paths{
		Store:     filepath.Join(dbPath, "store"),
		Crash:     filepath.Join(dbPath, "state", "crash"),
		Abort:     filepath.Join(dbPath, "state", "abort"),
		Telemetry: filepath.Join(dbPath, "state", "telemetry"),
		Tmp:       filepath.Join(dbPath, "state", "tmp"),
	}

	for _, dir := range []string{p.Store, p.Crash, p.Abort, p.Telemetry, p.Tmp} {
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", dir, err)
		}

		// if path exists, reject symlinks and non-directories
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", dir)
			}
		}

		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}

		// double-check no symlink after creation
		if fi2, err := os.Lstat(dir); err == nil {
			if fi2.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink after creation: %s", dir)
			}
			if fi2.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode after creation: %s", dir)
			}
		}

		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	pathsMu.Lock()
	pathsVar = p
	pathsMu.Unlock()
	return nil
}
