// Package archive связывает каталог архива, очередь загрузки и синхронизацию каналов.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"slack-archiver/internal/domain"
	"slack-archiver/internal/usecase/download"
	"slack-archiver/internal/usecase/history"
)

const (
	// ChannelsFile список каналов архива.
	ChannelsFile = "channels.json"
	// FilesDir каталог загруженных файлов.
	FilesDir = "_files"
)

var (
	// ErrNotDirectory возвращается, если путь архива не является каталогом.
	ErrNotDirectory = errors.New("путь архива не является каталогом")
	// ErrUpgradeConflict возвращается, если при миграции каноничный каталог канала уже существует.
	ErrUpgradeConflict = errors.New("каталог канала уже существует")
)

// Options настраивает архив.
type Options struct {
	Download download.Options
	History  history.Options
	Logger   zerolog.Logger
}

// Status снимок состояния архива для страницы статуса.
type Status struct {
	Path      string `json:"path"`
	Queue     int    `json:"queue"`
	Processed int64  `json:"processed"`
}

// Archive корень архива: одна очередь загрузки на все каналы.
type Archive struct {
	fs         afero.Fs
	root       string
	downloader *download.Downloader
	syncer     *history.Syncer
	logger     zerolog.Logger
}

// Open открывает архив в каталоге root и запускает воркеров загрузки в root/_files.
func Open(ctx context.Context, fs afero.Fs, root string, source domain.HistorySource, fetcher domain.Fetcher, opts Options) (*Archive, error) {
	ok, err := afero.DirExists(fs, root)
	if err != nil {
		return nil, fmt.Errorf("проверка каталога архива: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	logger := opts.Logger.With().Str("archive", root).Logger()

	dlOpts := opts.Download
	dlOpts.Logger = logger
	if dlOpts.Archive == "" {
		dlOpts.Archive = root
	}
	downloader, err := download.New(ctx, fs, filepath.Join(root, FilesDir), fetcher, dlOpts)
	if err != nil {
		return nil, fmt.Errorf("запуск загрузчика: %w", err)
	}

	hOpts := opts.History
	hOpts.Logger = logger
	if hOpts.Archive == "" {
		hOpts.Archive = root
	}
	return &Archive{
		fs:         fs,
		root:       root,
		downloader: downloader,
		syncer:     history.NewSyncer(fs, root, source, downloader, hOpts),
		logger:     logger.With().Str("component", "archive").Logger(),
	}, nil
}

// Path возвращает каталог архива.
func (a *Archive) Path() string {
	return a.root
}

// Status возвращает текущую длину очереди и число скачанных файлов.
func (a *Archive) Status() Status {
	return Status{Path: a.root, Queue: a.downloader.Len(), Processed: a.downloader.Processed()}
}

// Channels читает channels.json.
func (a *Archive) Channels() ([]domain.Channel, error) {
	data, err := afero.ReadFile(a.fs, filepath.Join(a.root, ChannelsFile))
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", ChannelsFile, err)
	}
	var channels []domain.Channel
	if err := json.Unmarshal(data, &channels); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", ChannelsFile, err)
	}
	return channels, nil
}

// NeedsUpgrade сообщает, есть ли каналы в старой раскладке: настоящий каталог под именем канала.
func (a *Archive) NeedsUpgrade() (bool, error) {
	channels, err := a.Channels()
	if err != nil {
		return false, err
	}
	for _, ch := range channels {
		legacy, err := a.isLegacy(ch)
		if err != nil {
			return false, err
		}
		if legacy {
			return true, nil
		}
	}
	return false, nil
}

// Upgrade переносит каталоги старой раскладки в _channel-<id> и оставляет под именем symlink.
func (a *Archive) Upgrade() error {
	channels, err := a.Channels()
	if err != nil {
		return err
	}
	linker, ok := a.fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("миграция архива: %w", afero.ErrNoSymlink)
	}
	for _, ch := range channels {
		legacy, err := a.isLegacy(ch)
		if err != nil {
			return err
		}
		if !legacy {
			continue
		}
		named := filepath.Join(a.root, ch.Name)
		canonical := filepath.Join(a.root, ch.DirName())
		if _, err := a.fs.Stat(canonical); err == nil {
			return fmt.Errorf("%w: %s", ErrUpgradeConflict, canonical)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("проверка %s: %w", canonical, err)
		}
		if err := a.fs.Rename(named, canonical); err != nil {
			return fmt.Errorf("перенос каталога канала %s: %w", ch.Name, err)
		}
		if err := linker.SymlinkIfPossible(ch.DirName(), named); err != nil {
			return fmt.Errorf("создание алиаса канала %s: %w", ch.Name, err)
		}
		a.logger.Info().Str("channel", ch.Name).Str("dir", ch.DirName()).Msg("archive: канал перенесён в новую раскладку")
	}
	return nil
}

// DownloadAllFiles заново ставит в очередь файлы всех сообщений всех каналов.
func (a *Archive) DownloadAllFiles(ctx context.Context) error {
	channels, err := a.Channels()
	if err != nil {
		return err
	}
	var errs []error
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := a.syncer.RescanFiles(ctx, ch); err != nil {
			a.logger.Error().Err(err).Str("channel", ch.Name).Msg("archive: не удалось пересканировать файлы канала")
			errs = append(errs, fmt.Errorf("канал %s: %w", ch.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Refresh синхронизирует каналы по очереди. Ошибка канала не останавливает остальные.
func (a *Archive) Refresh(ctx context.Context) error {
	channels, err := a.Channels()
	if err != nil {
		return err
	}
	var errs []error
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		cursor, err := a.syncer.Refresh(ctx, ch)
		if err != nil {
			a.logger.Error().Err(err).Str("channel", ch.Name).Msg("archive: синхронизация канала прервана")
			errs = append(errs, fmt.Errorf("канал %s: %w", ch.Name, err))
			continue
		}
		a.logger.Info().Str("channel", ch.Name).Str("cursor", cursor.String()).Msg("archive: канал синхронизирован")
	}
	return errors.Join(errs...)
}

// Close дожидается разбора очереди загрузки и сохраняет остаток в pending.json.
func (a *Archive) Close() error {
	a.downloader.Join()
	return a.downloader.Close()
}

// Interrupt останавливает загрузки после текущих файлов и сохраняет очередь.
func (a *Archive) Interrupt() error {
	a.downloader.Stop()
	return a.downloader.Close()
}

func (a *Archive) isLegacy(ch domain.Channel) (bool, error) {
	if ch.Name == "" || ch.Name == ch.DirName() {
		return false, nil
	}
	named := filepath.Join(a.root, ch.Name)
	var (
		fi  os.FileInfo
		err error
	)
	if l, ok := a.fs.(afero.Lstater); ok {
		fi, _, err = l.LstatIfPossible(named)
	} else {
		fi, err = a.fs.Stat(named)
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("проверка %s: %w", named, err)
	}
	return fi.IsDir() && fi.Mode()&os.ModeSymlink == 0, nil
}
