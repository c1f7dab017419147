// Package lock содержит реализации domain.LockSet: метки-каталоги на диске, карту в памяти и ключи Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DirName имя каталога меток внутри корня загрузок.
const DirName = "_lockdir"

// DirSet хранит захваченные ключи как подкаталоги root.
// mkdir атомарен, поэтому метку видят и другие процессы на том же диске.
type DirSet struct {
	fs   afero.Fs
	root string
}

// NewDirSet создаёт набор меток в каталоге root.
func NewDirSet(fs afero.Fs, root string) *DirSet {
	return &DirSet{fs: fs, root: root}
}

// Root возвращает каталог меток.
func (s *DirSet) Root() string {
	return s.root
}

// Reset удаляет метки прошлого запуска и создаёт пустой каталог.
func (s *DirSet) Reset(context.Context) error {
	if err := s.fs.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove lock dir: %w", err)
	}
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	return nil
}

// TryAcquire создаёт метку key. Существующая метка означает, что ключ занят.
func (s *DirSet) TryAcquire(_ context.Context, key string) (bool, error) {
	err := s.fs.Mkdir(s.path(key), 0o755)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	return false, fmt.Errorf("create lock marker: %w", err)
}

// Release удаляет метку key.
func (s *DirSet) Release(_ context.Context, key string) error {
	if err := s.fs.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	return nil
}

func (s *DirSet) path(key string) string {
	return filepath.Join(s.root, filepath.Base(key))
}
