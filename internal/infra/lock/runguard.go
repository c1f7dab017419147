package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RunGuardName файл блокировки запуска в корне архива.
const RunGuardName = ".archiver.lock"

var (
	// ErrArchiveBusy возвращается, когда архив уже обслуживает другой процесс.
	ErrArchiveBusy = errors.New("архив уже используется другим процессом")
	// ErrNotDirectory возвращается, если корня архива нет или это не каталог.
	ErrNotDirectory = errors.New("путь архива не является каталогом")
)

// RunGuard удерживает flock на файле в корне архива, пока идёт запуск.
type RunGuard struct {
	lock *flock.Flock
}

// AcquireRunGuard берёт блокировку без ожидания. Если её держит другой процесс, возвращается ErrArchiveBusy.
// Корень архива должен уже существовать: guard ничего не создаёт, кроме файла блокировки.
func AcquireRunGuard(root string) (*RunGuard, error) {
	fi, err := os.Stat(root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat archive dir: %w", err)
	}
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	l := flock.New(filepath.Join(root, RunGuardName))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock archive: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArchiveBusy, root)
	}
	return &RunGuard{lock: l}, nil
}

// Release снимает блокировку.
func (g *RunGuard) Release() error {
	if g == nil || g.lock == nil {
		return nil
	}
	return g.lock.Unlock()
}
