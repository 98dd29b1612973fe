// Package env implements the per-node keyed variable store of SPEC_FULL
// §4.2: a typed map from name to value, guarded by a map-level RWMutex and
// per-entry mutexes, with three deletion policies and a contract used by
// pkg/runtime to expose fetch/store/create/erase as remote operations.
package env

import (
	"reflect"
	"sync"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
)

// DeletionPolicy controls what Erase does to the stored value.
type DeletionPolicy int

const (
	NoDelete DeletionPolicy = iota
	DeleteValue
	DeleteArray
)

type entry struct {
	mu     sync.Mutex
	value  interface{}
	typ    reflect.Type
	policy DeletionPolicy
}

// Store is one node's environment: the canonical home for matrix blocks
// and auxiliary vectors referenced by RemoteVar handles.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore returns an empty environment store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Create installs a new named value. Fails with NameExists if name is
// already present.
func Create[T any](s *Store, name string, value T, policy DeletionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return mferrors.NewRemoteCallError("create: name exists: "+name, nil)
	}
	s.entries[name] = &entry{value: value, typ: reflect.TypeOf(value), policy: policy}
	return nil
}

// Get fetches a named value, failing with UnknownName if absent or
// TypeMismatch if the stored type differs from T.
func Get[T any](s *Store, name string) (T, error) {
	var zero T
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return zero, mferrors.NewRemoteCallError("get: unknown name: "+name, nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.value.(T)
	if !ok {
		return zero, mferrors.NewRemoteCallError("get: type mismatch for "+name, nil)
	}
	return v, nil
}

// SetCopy overwrites an existing entry's value in place, preserving its
// deletion policy. Fails with UnknownName if name is absent.
func SetCopy[T any](s *Store, name string, value T) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return mferrors.NewRemoteCallError("setCopy: unknown name: "+name, nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = value
	e.typ = reflect.TypeOf(value)
	return nil
}

// Mutate runs fn against the stored value for name under the per-entry
// lock and writes the result back. It is the building block tasks use to
// apply an in-place SGD/ALS/GNMF update to a block without taking the
// whole store's lock.
func Mutate[T any](s *Store, name string, fn func(T) T) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return mferrors.NewRemoteCallError("mutate: unknown name: "+name, nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.value.(T)
	if !ok {
		return mferrors.NewRemoteCallError("mutate: type mismatch for "+name, nil)
	}
	e.value = fn(v)
	return nil
}

// Erase removes name per its deletion policy. DeleteValue/DeleteArray both
// simply drop the Go reference (the garbage collector reclaims backing
// storage); the distinction is kept to mirror the source's explicit
// array-vs-scalar deallocation and to let callers assert on which policy
// an entry was created with.
func Erase(s *Store, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return mferrors.NewRemoteCallError("erase: unknown name: "+name, nil)
	}
	if e.policy == NoDelete {
		return mferrors.NewRemoteCallError("erase: no-delete policy forbids erase of "+name, nil)
	}
	delete(s.entries, name)
	return nil
}

// Type returns the reflect.Type of the stored value, or an error if name
// is absent.
func (s *Store) Type(name string) (reflect.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, mferrors.NewRemoteCallError("type: unknown name: "+name, nil)
	}
	return e.typ, nil
}

// Has reports whether name is present, without taking a per-entry lock.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[name]
	return ok
}

// Policy returns the deletion policy of the existing entry.
func (s *Store) Policy(name string) (DeletionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return NoDelete, mferrors.NewRemoteCallError("policy: unknown name: "+name, nil)
	}
	return e.policy, nil
}
