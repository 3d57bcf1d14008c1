// Package prefs holds user preferences as a flat string/bool map guarded by a
// single mutex, with batch load and save through a Backend.
package prefs

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/matheus3301/wallchat/internal/store"
)

const (
	kindString = "string"
	kindBool   = "bool"
)

// Backend persists preferences in batches. *store.DB implements it.
type Backend interface {
	LoadPreferences(ctx context.Context) ([]store.Preference, error)
	SavePreferences(ctx context.Context, prefs []store.Preference) error
}

type value struct {
	s    string
	b    bool
	kind string
}

// Store is the preferences cache. Accessors never fail: a missing key reads
// as "" or false.
type Store struct {
	mu      sync.Mutex
	values  map[string]value
	backend Backend
}

// New creates an empty store. backend may be nil for an in-memory store.
func New(backend Backend) *Store {
	return &Store{values: make(map[string]value), backend: backend}
}

// String returns the value of key. A bool preference reads as "true" or
// "false".
func (s *Store) String(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return ""
	}
	if v.kind == kindBool {
		return strconv.FormatBool(v.b)
	}
	return v.s
}

// Bool returns the value of key. A string preference reads as true only if
// it parses as one.
func (s *Store) Bool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return false
	}
	if v.kind == kindString {
		b, _ := strconv.ParseBool(v.s)
		return b
	}
	return v.b
}

// SetString stores a string preference, replacing any value of either kind.
func (s *Store) SetString(key, val string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value{s: val, kind: kindString}
}

// SetBool stores a bool preference, replacing any value of either kind.
func (s *Store) SetBool(key string, val bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value{b: val, kind: kindBool}
}

// Remove deletes key. The backend forgets it at the next SaveAll.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns every preference rendered as a string.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		if v.kind == kindBool {
			out[k] = strconv.FormatBool(v.b)
		} else {
			out[k] = v.s
		}
	}
	return out
}

// LoadAll replaces the cache with the backend's contents.
func (s *Store) LoadAll(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.backend.LoadPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	values := make(map[string]value, len(rows))
	for _, p := range rows {
		if p.Kind == kindBool {
			b, _ := strconv.ParseBool(p.Value)
			values[p.Key] = value{b: b, kind: kindBool}
			continue
		}
		values[p.Key] = value{s: p.Value, kind: kindString}
	}
	s.values = values
	return nil
}

// SaveAll writes the whole cache to the backend in one batch.
func (s *Store) SaveAll(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]store.Preference, 0, len(s.values))
	for _, k := range sortedKeys(s.values) {
		v := s.values[k]
		p := store.Preference{Key: k, Kind: v.kind, Value: v.s}
		if v.kind == kindBool {
			p.Value = strconv.FormatBool(v.b)
		}
		rows = append(rows, p)
	}
	if err := s.backend.SavePreferences(ctx, rows); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]value) []string {
	return slices.Sorted(maps.Keys(m))
}
