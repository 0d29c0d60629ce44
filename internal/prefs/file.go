// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/opentofu/hotbundle/internal/bundlefs"
)

// FileStore keeps preferences as a single JSON object on a bundle file
// system. Each write replaces the document atomically.
type FileStore struct {
	fs   *bundlefs.FS
	path string

	mu sync.Mutex
}

func NewFileStore(fs *bundlefs.FS, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) GetItem(key string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := values[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *FileStore) SetItem(key string, value *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if value == nil {
		if _, ok := values[key]; !ok {
			return nil
		}
		delete(values, key)
	} else {
		values[key] = *value
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	return s.fs.WriteFileAtomic(s.path, data)
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := s.fs.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("malformed preferences file %s: %w", s.path, err)
	}
	return values, nil
}
