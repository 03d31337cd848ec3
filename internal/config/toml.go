package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// connectionFile is the on-disk layout of the primary connection store.
type connectionFile struct {
	EndpointURL string `toml:"endpoint_url"`
	APIKey      string `toml:"api_key"`
	TableName   string `toml:"table_name"`
}

func (c *connectionFile) field(name string) (*string, error) {
	switch name {
	case KeyEndpointURL:
		return &c.EndpointURL, nil
	case KeyAPIKey:
		return &c.APIKey, nil
	case KeyTableName:
		return &c.TableName, nil
	}
	return nil, fmt.Errorf("unknown connection setting %q", name)
}

// TOMLStore is the primary connection store, a TOML file under the user's config dir.
type TOMLStore struct {
	path string
	mu   sync.Mutex
}

func NewTOMLStore(path string) *TOMLStore {
	return &TOMLStore{path: ExpandHome(path)}
}

func (s *TOMLStore) Path() string { return s.path }

func (s *TOMLStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load()
	if err != nil {
		return "", false
	}
	f, err := cfg.field(name)
	if err != nil || *f == "" {
		return "", false
	}
	return *f, true
}

func (s *TOMLStore) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load()
	if err != nil {
		return err
	}
	f, err := cfg.field(name)
	if err != nil {
		return err
	}
	*f = value
	return s.save(cfg)
}

func (s *TOMLStore) load() (*connectionFile, error) {
	var cfg connectionFile
	if _, err := toml.DecodeFile(s.path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return &cfg, nil
}

func (s *TOMLStore) save(cfg *connectionFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
