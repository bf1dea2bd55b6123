package voteclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Storage is a small persistent string map owned by one visitor, the counterpart of a
// browser's local storage.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// MemoryStorage 进程内存储，进程退出即丢失
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// FileStorage keeps the map in a JSON file and rewrites it on every Set.
type FileStorage struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileStorage loads path if it exists; a missing file starts empty.
func NewFileStorage(path string) (*FileStorage, error) {
	s := &FileStorage{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read vote storage")
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, errors.Wrapf(err, "parse vote storage %s", path)
	}
	return s, nil
}

func (s *FileStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.data[key] = value
	if err := s.flush(); err != nil {
		// 写盘失败时恢复内存中的旧值
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// flush 先写临时文件再 rename，避免写到一半的文件
func (s *FileStorage) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode vote storage")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create vote storage dir")
	}
	tmp, err := os.CreateTemp(dir, ".votes-*")
	if err != nil {
		return errors.Wrap(err, "create temp vote storage")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write vote storage")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close vote storage")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "replace vote storage")
	}
	return nil
}
