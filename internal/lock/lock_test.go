package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireRecordsHolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")
	l, err := Acquire(dir, "/tmp/wallchat-work.sock")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	if l.Path() != filepath.Join(dir, FileName) {
		t.Errorf("path = %q", l.Path())
	}
	got, err := ReadHolder(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if want := l.Holder(); got.PID != want.PID || got.Socket != want.Socket || !got.Since.Equal(want.Since) {
		t.Errorf("file holder = %+v, lock holder = %+v", got, want)
	}
	if got.PID != os.Getpid() || got.Socket != "/tmp/wallchat-work.sock" {
		t.Errorf("holder = %+v", got)
	}
	if time.Since(got.Since) > time.Minute {
		t.Errorf("since = %s, want about now", got.Since)
	}
}

func TestSecondAcquireNamesRunningDaemon(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, "/run/first.sock")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Release() }()

	_, err = Acquire(dir, "/run/second.sock")
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("err = %v, want *HeldError", err)
	}
	if held.Holder.PID != os.Getpid() || held.Holder.Socket != "/run/first.sock" {
		t.Errorf("holder = %+v, want the first daemon", held.Holder)
	}
	if !strings.Contains(err.Error(), "/run/first.sock") {
		t.Errorf("error %q does not name the running socket", err)
	}

	// The running daemon's record is left alone.
	if h, _ := ReadHolder(first.Path()); h.Socket != "/run/first.sock" {
		t.Errorf("lock file rewritten: %+v", h)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "/run/a.sock")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file survived release: %v", err)
	}

	l2, err := Acquire(dir, "/run/b.sock")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	defer func() { _ = l2.Release() }()
	if l2.Holder().Socket != "/run/b.sock" {
		t.Errorf("holder = %+v", l2.Holder())
	}
}

func TestAcquireOverLeftoverFile(t *testing.T) {
	dir := t.TempDir()
	// A crashed daemon leaves its record but not its flock.
	leftover := "pid = 1\nsocket = \"/run/dead.sock\"\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(leftover), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(dir, "/run/new.sock")
	if err != nil {
		t.Fatalf("Acquire over leftover file: %v", err)
	}
	defer func() { _ = l.Release() }()
	if h, _ := ReadHolder(l.Path()); h.PID != os.Getpid() || h.Socket != "/run/new.sock" {
		t.Errorf("holder = %+v, want this process", h)
	}
}

func TestHeldErrorWithoutRecord(t *testing.T) {
	err := &HeldError{Path: "/acct/LOCK"}
	if !strings.Contains(err.Error(), "/acct/LOCK") {
		t.Errorf("error = %q", err)
	}
}

func TestReleaseNilAndTwice(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() = %v", err)
	}

	l, err := Acquire(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() = %v", err)
	}
}
