package config

import (
	"fmt"
)

// NaNSentinel is the wire-level value meaning "keep previous slot".
const NaNSentinel = "NaN"

// ApplyPartialUpdate returns a copy of current with every non-sentinel
// value from update substituted in at the matching index. current and
// update need not be the same length: the result always preserves
// current's length, so a vector parameter's length never changes across
// partial updates.
func ApplyPartialUpdate(current, update []string) []string {
	out := make([]string, len(current))
	copy(out, current)
	for i, v := range update {
		if i >= len(out) {
			break
		}
		if v == NaNSentinel {
			continue
		}
		out[i] = v
	}
	return out
}

// UpdateExperimentParameter applies a partial update to the named parameter
// within the store, per the NaN-sentinel rule above. Returns ErrUnknownParam
// if name is not configured.
func (s *Store) UpdateExperimentParameter(name string, update []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cfg.ExperimentalParams {
		p := &s.cfg.ExperimentalParams[i]
		if p.Name != name {
			continue
		}
		p.Value = ApplyPartialUpdate(p.Value, update)
		return nil
	}
	return fmt.Errorf("config: %w: %s", ErrUnknownParam, name)
}

// ExperimentParameterSnapshot returns a deep copy of the named parameter.
func (s *Store) ExperimentParameterSnapshot(name string) (ExperimentParameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.cfg.ExperimentalParams {
		if p.Name == name {
			return p.Clone(), true
		}
	}
	return ExperimentParameter{}, false
}
