package queue

import (
	"sync"

	"lumina/internal/domain"
)

// OptionSet holds the global option set. The processor reads it once per
// record, when the enhancement call starts.
type OptionSet struct {
	mu   sync.RWMutex
	opts domain.Options
}

// NewOptionSet starts from initial, or the defaults when initial is invalid.
func NewOptionSet(initial domain.Options) *OptionSet {
	opts, err := initial.Normalize()
	if err != nil {
		opts = domain.DefaultOptions()
	}
	return &OptionSet{opts: opts}
}

func (s *OptionSet) Get() domain.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Set replaces the option set with the canonical form of opts.
func (s *OptionSet) Set(opts domain.Options) error {
	opts, err := opts.Normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	return nil
}
