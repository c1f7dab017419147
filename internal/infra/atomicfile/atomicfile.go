// Package atomicfile реализует запись файлов через временный соседний файл и rename.
// Читатель целевого пути всегда видит либо старое, либо новое содержимое целиком.
package atomicfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"slack-archiver/internal/domain"
)

const (
	tempPrefix = "."
	tempSuffix = ".temp"
)

// TempName возвращает путь временного файла для цели: dir/.<base>.temp.
// Каталог тот же, поэтому rename остаётся в пределах одной файловой системы.
func TempName(target string) string {
	return filepath.Join(filepath.Dir(target), tempPrefix+filepath.Base(target)+tempSuffix)
}

// File открыт на атомарную запись. Close фиксирует запись, Abort откатывает.
type File struct {
	fs       afero.Fs
	file     afero.File
	target   string
	temp     string
	closed   bool
	aborted  bool
	abortErr error
}

// Create открывает временный файл для цели. Оставшийся от убитого процесса temp перезаписывается.
func Create(fs afero.Fs, target string) (*File, error) {
	temp := TempName(target)
	f, err := fs.OpenFile(temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	return &File{fs: fs, file: f, target: target, temp: temp}, nil
}

// Name возвращает текущее имя: временное до фиксации и целевое после неё.
func (f *File) Name() string {
	if f.closed && !f.aborted {
		return f.target
	}
	return f.temp
}

// Write пишет во временный файл.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.file.Write(p)
}

// Close закрывает временный файл и переименовывает его поверх цели.
// При ошибке запись откатывается и ошибка возвращается. Повторный вызов ничего не делает.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	if err := f.file.Close(); err != nil {
		f.Abort()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := f.fs.Rename(f.temp, f.target); err != nil {
		f.Abort()
		return fmt.Errorf("rename temp file: %w", err)
	}
	f.closed = true
	return nil
}

// Abort удаляет временный файл, цель остаётся нетронутой.
// Ошибка удаления не возвращается, её можно получить через AbortErr.
func (f *File) Abort() {
	if f.closed {
		return
	}
	_ = f.file.Close()
	if err := f.fs.Remove(f.temp); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.abortErr = err
	}
	f.closed = true
	f.aborted = true
}

// Aborted сообщает, была ли запись отменена.
func (f *File) Aborted() bool {
	return f.aborted
}

// AbortErr возвращает ошибку удаления временного файла при откате.
func (f *File) AbortErr() error {
	return f.abortErr
}

// Write атомарно записывает в target всё, что fn пишет в w. Ошибка fn откатывает запись.
func Write(fs afero.Fs, target string, fn func(w io.Writer) error) error {
	f, err := Create(fs, target)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Abort()
		return err
	}
	return f.Close()
}

// WriteFile атомарно записывает data в target.
func WriteFile(fs afero.Fs, target string, data []byte) error {
	return Write(fs, target, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteJSON атомарно записывает v в компактном JSON без HTML-экранирования.
func WriteJSON(fs afero.Fs, target string, v any) error {
	data, err := domain.MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(target), err)
	}
	return WriteFile(fs, target, data)
}
