// Package secrets provides a small file-backed key-value store for
// credentials and provider selection. Values are kept in a YAML file with
// restrictive permissions under the application's config directory.
package secrets

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Well-known keys.
const (
	KeyAPIKey   = "apiKey"
	KeyProvider = "provider"
)

// Provider values. Only the OpenAI provider is wired to the chat pipeline;
// the selection is still persisted.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Store is a read-mostly key-value store. Every Set rewrites the whole file.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// Open loads the store from path, creating an empty store if the file does
// not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		values: map[string]string{},
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if pkgerrors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, pkgerrors.Wrapf(err, "read secrets file %s", path)
	}

	if err := yaml.Unmarshal(b, &s.values); err != nil {
		return nil, pkgerrors.Wrapf(err, "parse secrets file %s", path)
	}
	if s.values == nil {
		s.values = map[string]string{}
	}

	return s, nil
}

// Get returns the value for key, or the empty string when unset.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Set stores key=value and persists the whole store to disk.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, had := s.values[key]
	s.values[key] = value

	if err := s.flushLocked(); err != nil {
		// Roll back the in-memory value so memory and disk stay consistent.
		if had {
			s.values[key] = old
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *Store) flushLocked() error {
	b, err := yaml.Marshal(s.values)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal secrets")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return pkgerrors.Wrapf(err, "create secrets dir for %s", s.path)
	}

	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return pkgerrors.Wrapf(err, "write secrets file %s", s.path)
	}
	return nil
}
