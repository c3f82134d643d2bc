// Package state provides stores for persisting sync state between runs.
package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

var log *logger.Log

func init() {
	log = logging.New()
}

// MemoryStore keeps state in memory only, e.g. when state is handled by the client or
// emitted to the sink only.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore(initial []byte) *MemoryStore {
	return &MemoryStore{data: initial}
}

func (m *MemoryStore) Load(ctx context.Context) (*entity.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entity.ParseState(m.data)
}

func (m *MemoryStore) Save(ctx context.Context, state *entity.State) error {
	data, err := state.MarshalJSON()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}

// FileStore reads state from and writes state to a JSON file, in the Singer state
// format. A missing file gives an empty state.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (*entity.State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Infof(f.lgprfx() + "no state file found, starting with empty state")
		return entity.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read state file: %w", err)
	}
	return entity.ParseState(data)
}

// Save writes to a temporary file which then replaces the state file, so that a
// failed write never leaves a truncated state file behind.
func (f *FileStore) Save(ctx context.Context, state *entity.State) error {
	data, err := state.MarshalJSON()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("could not replace state file: %w", err)
	}
	log.Debugf(f.lgprfx()+"state saved: %s", string(data))
	return nil
}

func (f *FileStore) lgprfx() string {
	return "[state.file:" + f.path + "] "
}
