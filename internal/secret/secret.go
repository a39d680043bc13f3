// Package secret holds the single API credential used by the cloud backend.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// EnvKey is consulted when no key file exists.
const EnvKey = "OPENAI_API_KEY"

// Store is an opaque get/set/delete holder for one credential.
type Store interface {
	Get() (string, bool)
	Set(key string) error
	Delete() error
}

// Memory keeps the credential in process memory.
type Memory struct {
	key atomic.Pointer[string]
}

// NewMemory returns a Memory store holding key (empty for none).
func NewMemory(key string) *Memory {
	m := &Memory{}
	if key != "" {
		m.key.Store(&key)
	}
	return m
}

func (m *Memory) Get() (string, bool) {
	p := m.key.Load()
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

func (m *Memory) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty key")
	}
	m.key.Store(&key)
	return nil
}

func (m *Memory) Delete() error {
	m.key.Store(nil)
	return nil
}

// File keeps the credential in a 0600 file. Reads come from an in-memory copy
// that is refreshed on Set/Delete and, when watching, on external edits.
type File struct {
	path   string
	cached atomic.Pointer[string]
	logger zerolog.Logger

	mu      sync.Mutex // serializes writers
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// DefaultPath returns ~/.config/segscribe/api_key.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "segscribe", "api_key"), nil
}

// NewFile loads the key stored at path.
func NewFile(path string, logger zerolog.Logger) (*File, error) {
	f := &File{path: path, logger: logger.With().Str("component", "secret").Logger()}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Get() (string, bool) {
	if p := f.cached.Load(); p != nil && *p != "" {
		return *p, true
	}
	if env := strings.TrimSpace(os.Getenv(EnvKey)); env != "" {
		return env, true
	}
	return "", false
}

func (f *File) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty key")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store key: %w", err)
	}
	f.cached.Store(&key)
	return nil
}

func (f *File) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete key: %w", err)
	}
	f.cached.Store(nil)
	return nil
}

func (f *File) reload() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.cached.Store(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimSpace(string(data))
	f.cached.Store(&key)
	return nil
}

// Watch reloads the cached key whenever the key file changes on disk, until
// ctx is done or Stop is called.
func (f *File) Watch(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return err
	}
	f.watcher = watcher

	f.wg.Add(1)
	go f.watchLoop(ctx)
	return nil
}

// Stop ends watching.
func (f *File) Stop() {
	if f.watcher != nil {
		f.watcher.Close()
	}
	f.wg.Wait()
}

func (f *File) watchLoop(ctx context.Context) {
	defer f.wg.Done()
	name := filepath.Base(f.path)

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				f.logger.Error().Err(err).Msg("reload key failed")
				continue
			}
			f.logger.Info().Msg("api key changed on disk")

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error().Err(err).Msg("key watcher error")

		case <-ctx.Done():
			return
		}
	}
}
