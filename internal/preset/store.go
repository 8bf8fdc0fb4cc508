// Package preset keeps the saved rhythm playlist on disk.
package preset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "preset")

var (
	ErrNotFound    = errors.New("preset not found")
	ErrInvalidName = errors.New("preset name required")
	ErrOutOfRange  = errors.New("preset position out of range")
)

// Preset is one playlist entry.
type Preset struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Config  rhythm.Config `json:"config"`
	Created time.Time     `json:"created"`
	Updated time.Time     `json:"updated"`
}

// Store is an ordered playlist persisted as a JSON array. Every mutation
// rewrites the file.
type Store struct {
	path string
	now  func() time.Time

	mu    sync.Mutex
	items []Preset
}

// Open loads the playlist at path. A missing file is an empty playlist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for i := range s.items {
		s.items[i].Config = s.items[i].Config.Normalize()
	}
	log.Infof("Loaded %d presets from %s", len(s.items), path)
	return s, nil
}

func (s *Store) List() []Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Preset, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Get(id string) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Preset{}, ErrNotFound
	}
	return s.items[i], nil
}

// Save appends a new preset to the end of the playlist.
func (s *Store) Save(name string, cfg rhythm.Config) (Preset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Preset{}, ErrInvalidName
	}
	now := s.now()
	p := Preset{
		ID:      uuid.NewString(),
		Name:    name,
		Config:  cfg.Normalize(),
		Created: now,
		Updated: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, p)
	if err := s.flush(); err != nil {
		s.items = s.items[:len(s.items)-1]
		return Preset{}, err
	}
	return p, nil
}

// Update replaces the rhythm of an existing preset, keeping its name and
// position.
func (s *Store) Update(id string, cfg rhythm.Config) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Preset{}, ErrNotFound
	}
	prev := s.items[i]
	s.items[i].Config = cfg.Normalize()
	s.items[i].Updated = s.now()
	if err := s.flush(); err != nil {
		s.items[i] = prev
		return Preset{}, err
	}
	return s.items[i], nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	prev := s.items
	s.items = append(append([]Preset(nil), s.items[:i]...), s.items[i+1:]...)
	if err := s.flush(); err != nil {
		s.items = prev
		return err
	}
	return nil
}

// Move relocates the preset at position from to position to, shifting
// the ones in between.
func (s *Store) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrOutOfRange
	}
	if from == to {
		return nil
	}
	prev := append([]Preset(nil), s.items...)
	p := s.items[from]
	s.items = append(s.items[:from], s.items[from+1:]...)
	s.items = append(s.items[:to], append([]Preset{p}, s.items[to:]...)...)
	if err := s.flush(); err != nil {
		s.items = prev
		return err
	}
	return nil
}

// Next returns the preset after id, wrapping to the first.
func (s *Store) Next(id string) (Preset, error) {
	return s.step(id, 1)
}

// Prev returns the preset before id, wrapping to the last.
func (s *Store) Prev(id string) (Preset, error) {
	return s.step(id, -1)
}

func (s *Store) step(id string, dir int) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if n == 0 {
		return Preset{}, ErrNotFound
	}
	i := s.index(id)
	if i < 0 {
		return Preset{}, ErrNotFound
	}
	return s.items[((i+dir)%n+n)%n], nil
}

func (s *Store) index(id string) int {
	for i, p := range s.items {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// flush writes the playlist to a temp file beside the target and renames
// it into place. Callers hold s.mu.
func (s *Store) flush() error {
	items := s.items
	if items == nil {
		items = []Preset{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode presets: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".presets-*.json")
	if err != nil {
		return fmt.Errorf("write presets: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write presets: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write presets: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace presets: %w", err)
	}
	return nil
}
