package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// fileState is the on-disk layout of a FileSurface.
type fileState struct {
	NextID   int64     `yaml:"next_id"`
	Messages []Message `yaml:"messages"`
}

// FileSurface is a chat surface persisted to a YAML file. The file is the
// source of truth: every operation reloads it under the lock before acting,
// and every successful render rewrites it atomically. Message identities
// survive restarts, several processes may share one file, and an operator
// can delete a message by editing the file to simulate an out-of-band
// removal.
type FileSurface struct {
	mu   sync.Mutex
	path string

	// surface is the last state read from or written to path.
	surface *surface
}

// OpenFileSurface loads path, creating an empty surface if the file does not
// exist yet.
func OpenFileSurface(path string) (*FileSurface, error) {
	fs := &FileSurface{path: path, surface: newSurface()}
	loaded, err := fs.load()
	if err != nil {
		return nil, err
	}
	fs.surface = loaded
	return fs, nil
}

// load reads path into a fresh surface. The id sequence never moves
// backwards, so ids of messages deleted from the file are not reused.
// Caller holds f.mu, except during OpenFileSurface.
func (f *FileSurface) load() (*surface, error) {
	s := newSurface()
	if f.surface.nextID > s.nextID {
		s.nextID = f.surface.nextID
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read surface %s: %w", f.path, err)
	}

	var state fileState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse surface %s: %w", f.path, err)
	}
	if state.NextID > s.nextID {
		s.nextID = state.NextID
	}
	for i := range state.Messages {
		msg := state.Messages[i]
		s.messages[msg.Ref()] = &msg
	}
	return s, nil
}

// Render implements Renderer. The change is applied to a freshly loaded
// copy and becomes visible only once it is on disk.
func (f *FileSurface) Render(ctx context.Context, req Request) (dashboard.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.load()
	if err != nil {
		return "", err
	}
	ref := s.apply(req)
	if err := f.save(s); err != nil {
		return "", err
	}
	f.surface = s
	return ref, nil
}

// Messages lists the messages of a channel ("" for all channels). If the
// file cannot be read the last known state is listed.
func (f *FileSurface) Messages(channelID string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, err := f.load(); err == nil {
		f.surface = s
	}
	return f.surface.list(channelID)
}

// Delete removes a message and persists the change.
func (f *FileSurface) Delete(ref dashboard.ArtifactRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.load()
	if err != nil {
		return false, err
	}
	if !s.remove(ref) {
		f.surface = s
		return false, nil
	}
	if err := f.save(s); err != nil {
		return false, err
	}
	f.surface = s
	return true, nil
}

// save writes s to a temp file and renames it over path.
func (f *FileSurface) save(s *surface) error {
	state := fileState{NextID: s.nextID, Messages: s.list("")}
	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("encode surface: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".surface-*.yaml")
	if err != nil {
		return fmt.Errorf("write surface: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write surface: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write surface: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write surface: %w", err)
	}
	return nil
}
