// Package lockfile keeps two bot processes from sharing one state directory.
//
// The lock is an flock on a file in the state directory, so it is released by
// the kernel when the process exits, gracefully or not.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "pagepipe.lock"

// Owner describes the process holding the lock.
type Owner struct {
	PID     int
	PageID  string
	Addr    string
	Started time.Time
}

// String renders the owner as the key=value lines written to the lock file.
func (o Owner) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	if o.PageID != "" {
		fmt.Fprintf(&b, "page_id=%s\n", o.PageID)
	}
	if o.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", o.Addr)
	}
	if !o.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", o.Started.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// ParseOwner reads lock file content. Unknown keys are ignored.
func ParseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "page_id":
			o.PageID = value
		case "addr":
			o.Addr = value
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on stateDir, creating it if needed, and
// records owner in the lock file. A zero owner PID is replaced by ours.
func Acquire(stateDir string, owner Owner) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if owner.PID == 0 {
		owner.PID = os.Getpid()
	}
	if owner.Started.IsZero() {
		owner.Started = time.Now()
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Open without truncating so a competing owner's details survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		existing := describe(lockPath)
		slog.Error("lockfile.Acquire: state directory is locked", "lock_path", lockPath, "owner", existing, "error", err)
		return nil, &LockError{LockPath: lockPath, Existing: existing, Cause: err}
	}

	if err := rewrite(file, owner.String()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock owner to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: acquired state directory lock", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func rewrite(f *os.File, content string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.rewrite: failed to sync lock file", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so no other process can lock the old inode.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to unlock", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lock.Release: released state directory lock", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Existing string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another PagePipe instance is using this state directory (lock file %s)", e.LockPath)
	if e.Existing != "" {
		msg += ": " + e.Existing
	}
	return msg + fmt.Sprintf("; if no other instance is running, remove the lock file with: rm %s", e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describe summarizes the owner recorded in an existing lock file.
func describe(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	o := ParseOwner(string(data))
	if o.PID <= 0 {
		return strings.TrimSpace(string(data))
	}

	state := "not running"
	if isProcessRunning(o.PID) {
		state = "running"
	}
	desc := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.PageID != "" {
		desc += " for page " + o.PageID
	}
	if o.Addr != "" {
		desc += " on " + o.Addr
	}
	if !o.Started.IsZero() {
		desc += " since " + o.Started.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
