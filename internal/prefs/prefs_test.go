package prefs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matheus3301/wallchat/internal/store"
)

func TestAccessorsDefaultAndSet(t *testing.T) {
	s := New(nil)
	if s.String("missing") != "" || s.Bool("missing") {
		t.Error("missing keys should read as zero values")
	}

	s.SetString("theme", "dark")
	s.SetBool("notifications", true)
	if got := s.String("theme"); got != "dark" {
		t.Errorf("theme = %q, want dark", got)
	}
	if !s.Bool("notifications") {
		t.Error("notifications = false, want true")
	}
	if got := s.String("notifications"); got != "true" {
		t.Errorf("bool as string = %q, want true", got)
	}

	s.Remove("theme")
	if s.String("theme") != "" {
		t.Error("theme still present after Remove")
	}
	if snap := s.Snapshot(); len(snap) != 1 || snap["notifications"] != "true" {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestAccessorsAcrossKinds(t *testing.T) {
	s := New(nil)
	s.SetString("sound", "true")
	s.SetString("name", "not a bool")
	if !s.Bool("sound") {
		t.Error(`Bool on string "true" = false`)
	}
	if s.Bool("name") {
		t.Error("Bool on a non-bool string = true")
	}

	s.SetBool("sound", false)
	if got := s.String("sound"); got != "false" {
		t.Errorf("String after SetBool = %q, want false", got)
	}
	s.SetString("sound", "on")
	if got := s.String("sound"); got != "on" || s.Bool("sound") {
		t.Errorf("SetString did not replace the bool: %q", got)
	}
}

func TestRemoveForgottenAtSave(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	s := New(db)
	s.SetString("chat.active_conversation", "alice")
	s.SetBool("sound", true)
	if err := s.SaveAll(ctx); err != nil {
		t.Fatal(err)
	}
	s.Remove("chat.active_conversation")

	// Until SaveAll runs the backend still has the key.
	if rows, _ := db.LoadPreferences(ctx); len(rows) != 2 {
		t.Errorf("backend rows before save = %+v", rows)
	}
	if err := s.SaveAll(ctx); err != nil {
		t.Fatal(err)
	}
	rows, err := db.LoadPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Key != "sound" {
		t.Errorf("backend rows after save = %+v, want only sound", rows)
	}
}

func TestConcurrentWrites(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SetBool("flag", i%2 == 0)
			s.SetString("name", "x")
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	if len(s.Snapshot()) != 2 {
		t.Errorf("snapshot = %v, want 2 keys", s.Snapshot())
	}
}

func TestRoundTripThroughSQLite(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	s := New(db)
	s.SetString("theme", "dark")
	s.SetBool("notifications", true)
	s.SetBool("compact", false)
	if err := s.SaveAll(ctx); err != nil {
		t.Fatal(err)
	}

	loaded := New(db)
	if err := loaded.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}
	if loaded.String("theme") != "dark" || !loaded.Bool("notifications") || loaded.Bool("compact") {
		t.Errorf("loaded snapshot = %v", loaded.Snapshot())
	}
	if len(loaded.Snapshot()) != 3 {
		t.Errorf("loaded %d keys, want 3", len(loaded.Snapshot()))
	}
}

type failingBackend struct{ err error }

func (f failingBackend) LoadPreferences(context.Context) ([]store.Preference, error) {
	return nil, f.err
}

func (f failingBackend) SavePreferences(context.Context, []store.Preference) error { return f.err }

func TestBackendErrorsPropagate(t *testing.T) {
	boom := errors.New("disk full")
	s := New(failingBackend{err: boom})
	s.SetString("k", "v")

	if err := s.SaveAll(context.Background()); !errors.Is(err, boom) {
		t.Errorf("SaveAll err = %v, want wrapped boom", err)
	}
	if err := s.LoadAll(context.Background()); !errors.Is(err, boom) {
		t.Errorf("LoadAll err = %v, want wrapped boom", err)
	}
	// A failed load leaves the cache intact.
	if s.String("k") != "v" {
		t.Error("cache cleared by failed load")
	}
}
