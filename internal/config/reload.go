package config

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
)

// Store hands out the current configuration and swaps it atomically on
// reload. Either a whole new config takes effect or none of it does.
type Store struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewStore wraps an already-loaded config with its originating path.
func NewStore(path string, cfg *Config) *Store {
	s := &Store{path: path}
	s.cur.Store(cfg)
	return s
}

// Current returns the live configuration snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Reload re-reads the file and swaps the snapshot. A failed load keeps
// the previous configuration in place.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(cfg)
	return nil
}

// WatchSIGHUP reloads on SIGHUP until stop is closed.
func (s *Store) WatchSIGHUP(log zerolog.Logger, stop <-chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				if err := s.Reload(); err != nil {
					log.Error().Err(err).Msg("config reload failed, keeping previous")
					continue
				}
				log.Info().Str("path", s.path).Msg("config reloaded")
			case <-stop:
				return
			}
		}
	}()
}
