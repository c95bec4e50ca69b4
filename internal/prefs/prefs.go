// Package prefs persists client-side preferences that survive restarts:
// backend port, display name, and per-role enabled/scale settings.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RolePrefs is per-character display state.
type RolePrefs struct {
	Enabled bool    `json:"enabled"`
	Scale   float64 `json:"scale,omitempty"`
}

// Prefs is the persisted preference set.
type Prefs struct {
	BackendPort int                  `json:"backendPort,omitempty"`
	UserName    string               `json:"userName,omitempty"`
	Roles       map[string]RolePrefs `json:"roles,omitempty"`
}

// Store is a JSON file backed preference store with change notification.
// Saves are atomic: written to a temp file and renamed into place.
type Store struct {
	path   string
	logger zerolog.Logger

	mu       sync.Mutex
	prefs    Prefs
	watcher  *fsnotify.Watcher
	onChange func(Prefs)
}

// DefaultPath returns ~/.liveroom/prefs.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".liveroom", "prefs.json"), nil
}

// Open loads the store at path, creating an empty one if the file is missing.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "prefs").Logger(),
		prefs:  Prefs{Roles: make(map[string]RolePrefs)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read prefs: %w", err)
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		// a corrupt prefs file must not block startup
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Corrupt prefs file ignored")
		return nil
	}
	if p.Roles == nil {
		p.Roles = make(map[string]RolePrefs)
	}

	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Prefs {
	out := s.prefs
	out.Roles = make(map[string]RolePrefs, len(s.prefs.Roles))
	for k, v := range s.prefs.Roles {
		out.Roles[k] = v
	}
	return out
}

// EnabledRoles lists the roles flagged enabled, the set a fresh connection
// replays join requests for.
func (s *Store) EnabledRoles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, rp := range s.prefs.Roles {
		if rp.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// SetRoleEnabled flips one role's enabled flag and saves.
func (s *Store) SetRoleEnabled(role string, enabled bool) error {
	return s.Update(func(p *Prefs) {
		rp := p.Roles[role]
		rp.Enabled = enabled
		p.Roles[role] = rp
	})
}

// SetRoleScale stores one role's display scale and saves.
func (s *Store) SetRoleScale(role string, scale float64) error {
	return s.Update(func(p *Prefs) {
		rp := p.Roles[role]
		rp.Scale = scale
		p.Roles[role] = rp
	})
}

// SetUserName stores the display name and saves.
func (s *Store) SetUserName(name string) error {
	return s.Update(func(p *Prefs) { p.UserName = name })
}

// SetBackendPort stores the backend port override and saves.
func (s *Store) SetBackendPort(port int) error {
	return s.Update(func(p *Prefs) { p.BackendPort = port })
}

// Update applies fn to the preferences under lock and persists the result.
func (s *Store) Update(fn func(*Prefs)) error {
	s.mu.Lock()
	fn(&s.prefs)
	snapshot := s.copyLocked()
	s.mu.Unlock()
	return s.save(snapshot)
}

// save writes atomically: temp file in the same directory, then rename.
func (s *Store) save(p Prefs) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*.json")
	if err != nil {
		return fmt.Errorf("create temp prefs: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close prefs: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}

// Watch reloads the store when the prefs file changes on disk and invokes
// onChange with the fresh snapshot. Call Close to stop watching.
func (s *Store) Watch(onChange func(Prefs)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// watch the directory: atomic renames replace the file inode
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch prefs dir: %w", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.onChange = onChange
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.load(); err != nil {
				s.logger.Warn().Err(err).Msg("Prefs reload failed")
				continue
			}
			s.mu.Lock()
			cb := s.onChange
			snapshot := s.copyLocked()
			s.mu.Unlock()
			if cb != nil {
				cb(snapshot)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("Prefs watcher error")
		}
	}
}

// Close stops the file watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
