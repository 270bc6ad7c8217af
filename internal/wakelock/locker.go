package wakelock

import (
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Locker acquires and releases the named system wake-lock. The Supervisor
// calls Acquire on the zero-to-positive transition and Release when the
// reference count returns to zero.
type Locker interface {
	Acquire(name string) error
	Release(name string) error
}

// NopLocker is a Locker that does nothing. It is used on hosts without a
// kernel wake-lock interface.
type NopLocker struct{}

func (NopLocker) Acquire(string) error { return nil }
func (NopLocker) Release(string) error { return nil }

// DefaultSysfsDir is where the kernel exposes the wake-lock files.
const DefaultSysfsDir = "/sys/power"

// SysfsLocker drives the kernel's user-space wake-lock interface by writing
// the lock name to wake_lock and wake_unlock.
type SysfsLocker struct {
	Dir string
	mu  sync.Mutex
}

// NewSysfsLocker returns a SysfsLocker rooted at dir, or DefaultSysfsDir when
// dir is empty.
func NewSysfsLocker(dir string) *SysfsLocker {
	if dir == "" {
		dir = DefaultSysfsDir
	}
	return &SysfsLocker{Dir: dir}
}

func (l *SysfsLocker) Acquire(name string) error {
	return l.write("wake_lock", name)
}

func (l *SysfsLocker) Release(name string) error {
	return l.write("wake_unlock", name)
}

func (l *SysfsLocker) write(file, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.Dir, file)
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	if _, err := unix.Write(fd, []byte(name)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
