package config

import "sync"

// Service is the injected configuration handle components read at each
// operation. Snapshot returns a copy, so a concurrent Apply never tears an
// in-flight reader.
type Service struct {
	mu  sync.RWMutex
	cfg Config
}

// NewService wraps a validated Config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{cfg: cfg}, nil
}

// Snapshot returns the current configuration by value.
func (s *Service) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Apply merges overrides into the current configuration. The change is
// rejected atomically if any key is unknown or the result fails validation.
func (s *Service) Apply(overrides map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	if err := next.ApplyOverrides(overrides); err != nil {
		return err
	}
	s.cfg = next
	return nil
}
