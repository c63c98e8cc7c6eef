package storage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"mini-storm/internal/udf"
)

type offsetKey struct {
	topology string
	stage    string
	index    int
}

// OffsetStore es un udf.Offsets en memoria, compartido por los workers de un
// mismo proceso.
type OffsetStore struct {
	mu      sync.RWMutex
	offsets map[offsetKey]int
}

var _ udf.Offsets = (*OffsetStore)(nil)

func NewOffsetStore() *OffsetStore {
	return &OffsetStore{offsets: make(map[offsetKey]int)}
}

func (s *OffsetStore) Load(topology, stage string, index int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.offsets[offsetKey{topology, stage, index}]
	return n, ok
}

// Commit nunca retrocede un offset ya guardado.
func (s *OffsetStore) Commit(topology, stage string, index int, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := offsetKey{topology, stage, index}
	if offset > s.offsets[k] {
		s.offsets[k] = offset
	}
	return nil
}

// FileOffsetStore guarda un archivo por Source en Dir. Sirve entre procesos
// cuando Dir es un directorio compartido, igual que los archivos de entrada.
type FileOffsetStore struct {
	Dir string
	mu  sync.Mutex
}

var _ udf.Offsets = (*FileOffsetStore)(nil)

func NewFileOffsetStore(dir string) (*FileOffsetStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("offsets dir: %w", err)
	}
	return &FileOffsetStore{Dir: dir}, nil
}

func (s *FileOffsetStore) path(topology, stage string, index int) string {
	name := fmt.Sprintf("%s.%s.%d.offset", url.PathEscape(topology), url.PathEscape(stage), index)
	return filepath.Join(s.Dir, name)
}

func (s *FileOffsetStore) Load(topology, stage string, index int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(s.path(topology, stage, index))
}

func (s *FileOffsetStore) readLocked(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Commit escribe en un temporal y renombra: un lector nunca ve un archivo a medias.
func (s *FileOffsetStore) Commit(topology, stage string, index int, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(topology, stage, index)
	if prev, ok := s.readLocked(path); ok && prev >= offset {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(offset)+"\n"), 0o644); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}
