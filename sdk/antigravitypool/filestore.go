package antigravitypool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileStore persists the accounts document to a single JSON file, writing
// atomically via a temp file plus rename so a crash mid-write never leaves a
// truncated document on disk.
type FileStore struct {
	path string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange func()
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFileStore creates a FileStore backed by the JSON document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultAccountsPath is the platform config-dir location of the pool
// document: <config-dir>/antigravity-accounts.json.
func DefaultAccountsPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "antigravity-accounts.json"
	}
	return filepath.Join(base, "antigravity-accounts.json")
}

// Load reads the persisted document, returning (nil, nil) if the file does
// not yet exist.
func (s *FileStore) Load(ctx context.Context) (*PoolDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("antigravitypool: read pool document: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var doc PoolDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("antigravitypool: decode pool document: %w", err)
	}
	return &doc, nil
}

// Save writes doc atomically: marshal, write to a sibling temp file, fsync,
// then rename over the destination. Grounded on the teacher pack's
// darvell-codex-pool atomicWriteJSON helper.
func (s *FileStore) Save(ctx context.Context, doc *PoolDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("antigravitypool: marshal pool document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("antigravitypool: create pool dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".antigravity-accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("antigravitypool: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("antigravitypool: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("antigravitypool: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("antigravitypool: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("antigravitypool: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("antigravitypool: rename temp file: %w", err)
	}
	return nil
}

// WatchExternalChanges starts watching the backing file for writes made by a
// sibling process and invokes onChange whenever one is observed. This is the
// one concession to multi-process awareness the spec's Non-goals permit:
// passive notification, not coordinated locking. Call Close to stop
// watching.
func (s *FileStore) WatchExternalChanges(onChange func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("antigravitypool: create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("antigravitypool: watch pool dir: %w", err)
	}

	s.watcher = watcher
	s.onChange = onChange
	s.stopCh = make(chan struct{})

	go s.watchLoop()
	return nil
}

func (s *FileStore) watchLoop() {
	target := filepath.Clean(s.path)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && s.onChange != nil {
				s.onChange()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("antigravitypool: file watch error: %v", err)
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the file watcher, if one was started.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	return s.watcher.Close()
}
