package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquire_WritesOwner(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	lock, err := Acquire(dir, Owner{PageID: "1001", Addr: ":8080", Started: started})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("Path() = %q", lock.Path())
	}
	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	got := ParseOwner(string(data))
	if got.PID != os.Getpid() || got.PageID != "1001" || got.Addr != ":8080" || !got.Started.Equal(started) {
		t.Errorf("unexpected owner %+v", got)
	}
}

func TestAcquire_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, Owner{PageID: "1001"})
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir, Owner{PageID: "2002"})
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "another PagePipe instance") || !strings.Contains(msg, "(running) for page 1001") {
		t.Errorf("unhelpful error: %s", msg)
	}

	// The failed attempt must not clobber the holder's details.
	data, _ := os.ReadFile(first.Path())
	if ParseOwner(string(data)).PageID != "1001" {
		t.Errorf("lock owner overwritten: %q", data)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, Owner{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}

	again, err := Acquire(dir, Owner{})
	if err != nil {
		t.Fatalf("re-Acquire after release failed: %v", err)
	}
	again.Release()
}

func TestAcquire_CreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := Acquire(dir, Owner{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	o := ParseOwner("pid=42\nbogus\npage_id=7\nfuture=1\n")
	if o.PID != 42 || o.PageID != "7" {
		t.Errorf("unexpected owner %+v", o)
	}
	if ParseOwner("").PID != 0 {
		t.Error("empty content should yield zero owner")
	}
	if s := (Owner{PID: 1}).String(); s != "pid=1\n" {
		t.Errorf("String() = %q", s)
	}
}
