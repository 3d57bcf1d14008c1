// Package lock keeps one wallchat daemon per account. The lock file records
// which daemon holds it and where its control socket is, so a second daemon
// can say where to find the first.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the lock file inside an account directory.
const FileName = "LOCK"

// Holder describes the daemon recorded in a lock file.
type Holder struct {
	PID    int       `toml:"pid"`
	Socket string    `toml:"socket"`
	Since  time.Time `toml:"since"`
}

// HeldError is returned when another daemon holds the account lock.
type HeldError struct {
	Holder Holder
	Path   string
}

func (e *HeldError) Error() string {
	if e.Holder.PID == 0 {
		return fmt.Sprintf("account lock %s held by another daemon", e.Path)
	}
	return fmt.Sprintf("account already served by daemon pid %d on %s since %s",
		e.Holder.PID, e.Holder.Socket, e.Holder.Since.Format(time.RFC3339))
}

// Lock is an acquired account lock.
type Lock struct {
	file   *os.File
	path   string
	holder Holder
}

// Acquire takes an exclusive flock on <accountDir>/LOCK and records this
// process and its control socket in it. It returns a *HeldError if another
// process holds the lock. The kernel drops the flock when its holder exits,
// so a file left behind by a crash never blocks a new daemon.
func Acquire(accountDir, socket string) (*Lock, error) {
	if err := os.MkdirAll(accountDir, 0o700); err != nil {
		return nil, fmt.Errorf("create account dir: %w", err)
	}
	path := filepath.Join(accountDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		holder, _ := ReadHolder(path)
		return nil, &HeldError{Holder: holder, Path: path}
	}

	holder := Holder{PID: os.Getpid(), Socket: socket, Since: time.Now().UTC().Truncate(time.Second)}
	if err := writeHolder(f, holder); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path, holder: holder}, nil
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(h); err != nil {
		return err
	}
	return f.Sync()
}

// ReadHolder reads the daemon recorded in a lock file.
func ReadHolder(path string) (Holder, error) {
	var h Holder
	if _, err := toml.DecodeFile(path, &h); err != nil {
		return Holder{}, fmt.Errorf("read lock file: %w", err)
	}
	return h, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Holder returns what this lock recorded about the current process.
func (l *Lock) Holder() Holder { return l.holder }

// Release removes the lock file and drops the lock. Safe on a nil receiver
// and when called twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the flock so no other daemon sees a stale
	// file with our PID.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
