package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
)

var ErrNotFound = errors.New("checkpoint not found")

// Store persists checkpoints keyed by script key.
type Store interface {
	Load(ctx context.Context, key string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, key string) error
}

// FileStore keeps one JSON document per script under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// Path is where the checkpoint of key lives. Keys are usually absolute script
// paths, so the file name combines the script's base name with a stable hash.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, FileName(key))
}

func FileName(key string) string {
	base := strings.TrimSuffix(filepath.Base(key), filepath.Ext(key))
	sum := uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()[:8]
	return script.SafeName(base) + "_" + sum + ".checkpoint.json"
}

func (s *FileStore) Load(_ context.Context, key string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.Path(key), err)
	}
	return &cp, nil
}

func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ScriptKey == "" {
		return errors.New("checkpoint script key is required")
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := file.WriteAtomic(s.Path(cp.ScriptKey), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	cps map[string]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ScriptKey == "" {
		return errors.New("checkpoint script key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.ScriptKey] = cp.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, key)
	return nil
}
