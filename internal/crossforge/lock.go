package crossforge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// LockFile guards a working directory against concurrent runs.
const LockFile = ".crossforge.lock"

// ErrLocked is returned when another process holds the working directory.
var ErrLocked = errors.New("working directory is locked by another run")

// WorkLock is an exclusive flock on <working>/.crossforge.lock.
type WorkLock struct {
	f *os.File
}

// AcquireLock takes the lock without blocking. The holder's pid is written
// into the file for the error message of the next contender.
func AcquireLock(workingDir string) (*WorkLock, error) {
	path := filepath.Join(workingDir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder, _ := os.ReadFile(path)
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid := strings.TrimSpace(string(holder)); pid != "" {
				return nil, fmt.Errorf("%w (pid %s)", ErrLocked, pid)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &WorkLock{f: f}, nil
}

// Release drops the lock. The file is left in place.
func (l *WorkLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
