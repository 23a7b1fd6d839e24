// Package prefs is a small file-backed key-value store. It holds values that
// must be readable before the main database is opened, such as the schema
// version.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// File is a YAML map persisted at Path. Every Set rewrites the file atomically.
type File struct {
	path string

	mu     sync.Mutex
	values map[string]any
}

// Open loads path. A missing file is an empty store.
func Open(path string) (*File, error) {
	f := &File{path: path, values: map[string]any{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("parse prefs %s: %w", path, err)
	}
	if f.values == nil {
		f.values = map[string]any{}
	}
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Int returns the integer stored under key.
func (f *File) Int(key string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch v := f.values[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// String returns the string stored under key.
func (f *File) String(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.values[key].(string)
	return s, ok
}

// Set stores v under key and persists.
func (f *File) Set(key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.values[key]
	f.values[key] = v
	if err := f.flush(); err != nil {
		if had {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

// Delete removes key and persists.
func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.flush()
}

func (f *File) flush() error {
	data, err := yaml.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	return AtomicWriteFile(f.path, data, 0o644)
}
