package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store owns a Config, guarded by a RWMutex, with all writes going through
// its API. Readers call Snapshot and get a value they can hold across a
// routine without racing a concurrent reload.
type Store struct {
	mu         sync.RWMutex
	cfg        Config
	deviceName string
}

// NewStore wraps an already-loaded Config.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Load reads conf.yml (or robotics_server_conf.yml, or any YAML file sharing
// this schema) from path.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return NewStore(cfg), nil
}

// Save overwrites path with the current configuration. No atomic rename is
// attempted.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// Snapshot returns a deep copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConfig(s.cfg)
}

func cloneConfig(c Config) Config {
	out := c
	out.ExperimentalParams = make([]ExperimentParameter, len(c.ExperimentalParams))
	for i, p := range c.ExperimentalParams {
		out.ExperimentalParams[i] = p.Clone()
	}
	out.BroadcastTags = make(map[string][]ExperimentParameter, len(c.BroadcastTags))
	for tag, params := range c.BroadcastTags {
		cp := make([]ExperimentParameter, len(params))
		for i, p := range params {
			cp[i] = p.Clone()
		}
		out.BroadcastTags[tag] = cp
	}
	pumps := make(map[string]PumpConfig, len(c.Robotics.Pumps))
	for k, v := range c.Robotics.Pumps {
		pumps[k] = v
	}
	out.Robotics.Pumps = pumps
	quads := make(map[string]QuadCalibration, len(c.Robotics.Quads))
	for k, v := range c.Robotics.Quads {
		quads[k] = v
	}
	out.Robotics.Quads = quads
	out.Robotics.PrintServers = append([]PrintServerConfig(nil), c.Robotics.PrintServers...)
	return out
}

// SetBroadcastEnabled toggles Config.BroadcastEnabled, letting the
// broadcast loop be paused without tearing the process down.
func (s *Store) SetBroadcastEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.BroadcastEnabled = enabled
	s.mu.Unlock()
}

// Replace swaps in a freshly loaded Config wholesale, used by Watcher when
// conf.yml changes on disk. The device name cache, which lives outside
// conf.yml, is left untouched.
func (s *Store) Replace(cfg Config) {
	s.mu.Lock()
	s.cfg = cloneConfig(cfg)
	s.mu.Unlock()
}

// ReplaceExperimentalParams swaps in a whole new ordered parameter list,
// used when an operator pushes a fresh conf.yml via a command event.
func (s *Store) ReplaceExperimentalParams(params []ExperimentParameter) {
	s.mu.Lock()
	cp := make([]ExperimentParameter, len(params))
	for i, p := range params {
		cp[i] = p.Clone()
	}
	s.cfg.ExperimentalParams = cp
	s.mu.Unlock()
}

// deviceNameFile is the on-disk shape of the device-name JSON file, kept
// separate from conf.yml.
type deviceNameFile struct {
	Name string `json:"name"`
}

// LoadDeviceName reads the device-name JSON file into the store's cache and
// returns it.
func (s *Store) LoadDeviceName(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read device name %s: %w", path, err)
	}
	var f deviceNameFile
	if err := json.Unmarshal(b, &f); err != nil {
		return "", fmt.Errorf("config: parse device name %s: %w", path, err)
	}
	s.mu.Lock()
	s.deviceName = f.Name
	s.mu.Unlock()
	return f.Name, nil
}

// GetDeviceName returns the cached device name.
func (s *Store) GetDeviceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceName
}

// SetDeviceName updates the cache and persists it to path.
func (s *Store) SetDeviceName(path, name string) error {
	s.mu.Lock()
	s.deviceName = name
	s.mu.Unlock()
	b, err := json.Marshal(deviceNameFile{Name: name})
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
