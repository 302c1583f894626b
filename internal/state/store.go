// Package state holds the page-scoped shared state that interactive blocks
// write and dependent blocks read.
//
// Each key has exactly one writer: the block that declared it. Readers look
// values up by exact, case-sensitive key. A key that has no value yet is
// "not yet resolved"; consumers must not substitute a default for it.
package state

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// ErrKeyClaimed is returned when a second block declares an owned key.
var ErrKeyClaimed = errors.New("state key already claimed")

// ErrNotOwner is returned when a block writes a key it did not declare.
var ErrNotOwner = errors.New("state key owned by another block")

// Change describes one value transition.
type Change struct {
	Key   string
	Old   any // nil when the key was unset
	New   any // nil when the key was cleared
	Owner string
}

type subscriber struct {
	id int
	fn func(Change)
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	owners map[string]string

	subMu  sync.Mutex
	subs   []subscriber
	nextID int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		values: make(map[string]any),
		owners: make(map[string]string),
	}
}

// Declare registers owner as the single writer of key. Re-declaring by the
// same owner is a no-op.
func (s *Store) Declare(key, owner string) error {
	if key == "" {
		return fmt.Errorf("state key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.owners[key]; ok && current != owner {
		return fmt.Errorf("%w: %q is written by block %s", ErrKeyClaimed, key, current)
	}
	s.owners[key] = owner
	return nil
}

// Owner returns the block that declared key.
func (s *Store) Owner(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[key]
	return owner, ok
}

// Set writes value under key on behalf of owner. Values are normally a
// string or a []string. A nil value clears the key. Subscribers are notified
// only when the stored value actually changes.
func (s *Store) Set(owner, key string, value any) error {
	s.mu.Lock()
	current, declared := s.owners[key]
	if !declared {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q was never declared", ErrNotOwner, key)
	}
	if current != owner {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q is written by block %s", ErrNotOwner, key, current)
	}

	old, had := s.values[key]
	if value == nil {
		delete(s.values, key)
	} else {
		s.values[key] = cloneValue(value)
	}
	s.mu.Unlock()

	if had && reflect.DeepEqual(old, value) || !had && value == nil {
		return nil
	}
	s.notify(Change{Key: key, Old: old, New: value, Owner: owner})
	return nil
}

// Get returns the raw value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Lookup returns the value as template text. Multi-select values are joined
// with commas. An empty selection counts as unresolved.
func (s *Store) Lookup(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	text := Text(v)
	if text == "" {
		return "", false
	}
	return text, true
}

// Text renders a state value as a string.
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// Snapshot returns a copy of every set value.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the declared keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.owners))
	for k := range s.owners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset clears every value, keeping declarations. Subscribers see one
// change per cleared key.
func (s *Store) Reset() {
	s.mu.Lock()
	cleared := make([]Change, 0, len(s.values))
	for k, v := range s.values {
		cleared = append(cleared, Change{Key: k, Old: v, Owner: s.owners[k]})
	}
	s.values = make(map[string]any)
	s.mu.Unlock()

	sort.Slice(cleared, func(i, j int) bool { return cleared[i].Key < cleared[j].Key })
	for _, c := range cleared {
		s.notify(c)
	}
}

// Subscribe registers fn for every change and returns a function that
// removes it. fn runs on the writer's goroutine, outside the store's lock,
// so it may read the store.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(c)
	}
}

func cloneValue(v any) any {
	if list, ok := v.([]string); ok {
		return append([]string(nil), list...)
	}
	return v
}
