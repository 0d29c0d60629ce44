// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package prefs is the small key/value preference store the lifecycle engine
// uses for the handful of values that live outside the bundle store, such as
// the path of the last installed bundle file.
package prefs

import (
	"maps"
	"sync"
)

// Store is a string key/value store. A nil value means "absent": GetItem
// returns nil for a key that was never set, and SetItem with nil removes
// the key.
type Store interface {
	GetItem(key string) (*string, error)
	SetItem(key string, value *string) error
}

// Prefixed returns a store that namespaces every key of inner with prefix.
// The lifecycle engine uses its isolation key as the prefix so that each app
// identity sees its own preferences.
func Prefixed(inner Store, prefix string) Store {
	return prefixed{inner: inner, prefix: prefix}
}

type prefixed struct {
	inner  Store
	prefix string
}

func (p prefixed) GetItem(key string) (*string, error) {
	return p.inner.GetItem(p.prefix + key)
}

func (p prefixed) SetItem(key string, value *string) error {
	return p.inner.SetItem(p.prefix+key, value)
}

// MemoryStore keeps preferences in memory only. It is safe for concurrent
// use.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) GetItem(key string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *MemoryStore) SetItem(key string, value *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.values, key)
		return nil
	}
	s.values[key] = *value
	return nil
}

// Snapshot returns a copy of every stored preference.
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}
