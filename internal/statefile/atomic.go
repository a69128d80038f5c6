package statefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileLocks funnels concurrent writers to the same path through a per-path
// mutex so callers observe sequential writes (spec §4.4 "Concurrency").
// Grounded on the single-writer-per-resource shape used throughout the
// teacher's storage helpers (e.g. FileJobStorage.mu in
// pkg/goclaw/scheduler/storage.go), generalized to be keyed by path instead
// of being one mutex per storage instance.
var fileLocks sync.Map // string -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	v, _ := fileLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// atomicWrite writes data to path via a sibling temp file, fsyncs it, then
// renames it into place (spec §4.4 "Write discipline": "write to a sibling
// temp file in the same directory, fsync it, then rename it into place").
// Grounded on pkg/devclaw/copilot/loader.go's SaveConfigToFile (backup
// before replace) and session_persistence.go's os.Rename usage, generalized
// into the temp+fsync+rename sequence the spec mandates for every state
// file rather than just config.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	// Always attempt cleanup of a leftover temp file; a successful rename
	// makes this a no-op (the file no longer exists at tmpPath).
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// appendLine appends a single line (newline-terminated) to path without
// fsyncing per record (spec §4.4: "not fsynced per-record"). Serialized
// through the same per-path mutex as atomicWrite.
func appendLine(path string, line []byte) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending to %q: %w", path, err)
	}
	return nil
}
