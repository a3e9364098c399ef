// File: control/store.go
// License: Apache-2.0
//
// Configuration snapshot store with reload listeners. Watch ties it to
// the config file through viper's file watcher.

package control

import (
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Store holds the current configuration. Snapshots returned by Get must
// be treated as read-only.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
	onError   func(error)
	v         *viper.Viper
}

// NewStore wraps a loaded configuration.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current snapshot.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the snapshot and notifies listeners synchronously.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnReload registers a listener called with every new snapshot.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnError registers a handler for reloads that fail to decode.
func (s *Store) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Reload decodes the watched source again.
func (s *Store) Reload() error {
	if s.v == nil {
		return nil
	}
	if err := s.v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := decode(s.v)
	if err != nil {
		return err
	}
	s.Set(cfg)
	return nil
}

// Watch loads configuration like Load and keeps the store current when
// the config file changes. Without a config file it behaves like Load.
func Watch(path string) (*Store, error) {
	v, cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	s := NewStore(cfg)
	if v.ConfigFileUsed() == "" {
		return s, nil
	}
	s.v = v
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			s.mu.RLock()
			onError := s.onError
			s.mu.RUnlock()
			if onError != nil {
				onError(err)
			}
			return
		}
		s.Set(cfg)
	})
	v.WatchConfig()
	return s, nil
}
