package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how old a lock file may grow before it is treated as
// abandoned by a crashed process and broken.
const staleLockAge = 10 * time.Minute

// Lock takes the advisory lock guarding the state file. Acquisition is
// a single O_EXCL create, so two processes racing for the lock cannot
// both win it.
func (s *FileStore) Lock() error {
	path := s.lockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			// The holder released between our create attempt and the
			// stat; try again.
			continue
		}
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(path)
			continue
		}
		return fmt.Errorf("state is locked by another process (lock file: %s). "+
			"If the holder is gone, remove the lock file manually", path)
	}
}

// Unlock drops the advisory lock. Releasing a lock that was never taken
// is not an error.
func (s *FileStore) Unlock() error {
	if err := os.Remove(s.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}
