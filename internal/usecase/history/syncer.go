// Package history синхронизирует историю каналов в дневные файлы архива.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"slack-archiver/internal/domain"
	"slack-archiver/internal/infra/atomicfile"
	"slack-archiver/internal/infra/metrics"
)

const (
	defaultPageSize = 1000
	dayFileExt      = ".json"
)

// ErrStalledPagination возвращается, когда источник обещает ещё страницы, но курсор не сдвигается.
var ErrStalledPagination = errors.New("пагинация истории не продвигается")

// Options настраивает Syncer.
type Options struct {
	PageSize int
	// Location задаёт границы календарных дней. По умолчанию time.Local.
	Location  *time.Location
	Publisher domain.EventPublisher
	Logger    zerolog.Logger
	RunID     string
	Archive   string
}

// Syncer дописывает новые сообщения каналов в дневные файлы и передаёт их файлы в очередь загрузки.
type Syncer struct {
	fs     afero.Fs
	root   string
	source domain.HistorySource
	files  domain.FileEnqueuer
	opts   Options
	logger zerolog.Logger
}

// NewSyncer создаёт синхронизатор для архива в root.
func NewSyncer(fs afero.Fs, root string, source domain.HistorySource, files domain.FileEnqueuer, opts Options) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Syncer{
		fs:     fs,
		root:   root,
		source: source,
		files:  files,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "history").Logger(),
	}
}

// Dir возвращает каноничный каталог канала.
func (s *Syncer) Dir(ch domain.Channel) string {
	return filepath.Join(s.root, ch.DirName())
}

// DayPath возвращает путь дневного файла канала.
func (s *Syncer) DayPath(ch domain.Channel, day string) string {
	return filepath.Join(s.Dir(ch), day+dayFileExt)
}

// Refresh догружает историю канала начиная с курсора и возвращает итоговый курсор.
// Ошибка источника прерывает синхронизацию, уже записанные дни остаются на диске.
func (s *Syncer) Refresh(ctx context.Context, ch domain.Channel) (cursor domain.Timestamp, err error) {
	start := time.Now()
	logger := s.logger.With().Str("channel", ch.Name).Str("channel_id", ch.ID).Logger()
	defer func() { metrics.ObserveChannelSync(start, err) }()

	if err := s.bootstrap(ch, logger); err != nil {
		return "", err
	}
	cursor, err = s.Cursor(ch)
	if err != nil {
		return "", err
	}
	logger.Debug().Str("cursor", cursor.String()).Msg("history: старт синхронизации")

	for {
		page, err := s.source.FetchHistory(ctx, ch.ID, cursor, s.opts.PageSize)
		if err != nil {
			return cursor, fmt.Errorf("%w: канал %s: %w", domain.ErrRemoteAPI, ch.ID, err)
		}
		next, err := s.mergePage(ctx, ch, cursor, page.Messages, logger)
		if err != nil {
			return next, err
		}
		if !page.HasMore {
			return next, nil
		}
		if next.Compare(cursor) <= 0 {
			return next, fmt.Errorf("%w: канал %s, курсор %s", ErrStalledPagination, ch.ID, cursor)
		}
		cursor = next
	}
}

// Cursor вычисляет курсор возобновления: ts последней записи самого позднего дневного файла.
func (s *Syncer) Cursor(ch domain.Channel) (domain.Timestamp, error) {
	days, err := s.dayFiles(ch)
	if err != nil {
		return "", err
	}
	if len(days) == 0 {
		return "", nil
	}
	msgs, err := s.loadDay(days[len(days)-1])
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[len(msgs)-1].TS, nil
}

// RescanFiles заново ставит в очередь файлы всех сообщений канала, от старых дней к новым.
func (s *Syncer) RescanFiles(ctx context.Context, ch domain.Channel) error {
	days, err := s.dayFiles(ch)
	if err != nil {
		return err
	}
	var queued int
	for _, path := range days {
		msgs, err := s.loadDay(path)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if !msg.HasFiles() {
				continue
			}
			if err := s.files.AddMessage(ctx, msg); err != nil {
				return fmt.Errorf("постановка файлов в очередь: %w", err)
			}
			queued++
		}
	}
	s.logger.Info().Str("channel", ch.Name).Int("days", len(days)).Int("messages", queued).Msg("history: файлы канала поставлены в очередь")
	return nil
}

func (s *Syncer) mergePage(ctx context.Context, ch domain.Channel, cursor domain.Timestamp, page []domain.Message, logger zerolog.Logger) (domain.Timestamp, error) {
	msgs := make([]domain.Message, 0, len(page))
	for _, m := range page {
		if _, err := m.TS.Time(); err != nil {
			logger.Warn().Err(err).Msg("history: сообщение с некорректным ts пропущено")
			continue
		}
		msgs = append(msgs, m)
	}
	sortByTS(msgs)

	for start := 0; start < len(msgs); {
		day, _ := msgs[start].TS.Day(s.opts.Location)
		end := start + 1
		for end < len(msgs) {
			d, _ := msgs[end].TS.Day(s.opts.Location)
			if d != day {
				break
			}
			end++
		}
		run := msgs[start:end]
		if err := s.mergeDay(ctx, ch, day, run, logger); err != nil {
			return cursor, err
		}
		if last := run[len(run)-1].TS; last.Compare(cursor) > 0 {
			cursor = last
		}
		start = end
	}
	return cursor, nil
}

// mergeDay дописывает run в дневной файл и только после записи передаёт файлы сообщений в очередь.
func (s *Syncer) mergeDay(ctx context.Context, ch domain.Channel, day string, run []domain.Message, logger zerolog.Logger) error {
	path := s.DayPath(ch, day)
	current, err := s.loadDay(path)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(current)+len(run))
	for _, m := range current {
		seen[string(m.TS)] = struct{}{}
	}
	added := 0
	merged := current
	for _, m := range run {
		if _, ok := seen[string(m.TS)]; ok {
			continue
		}
		seen[string(m.TS)] = struct{}{}
		merged = append(merged, m)
		added++
	}

	if added > 0 {
		sortByTS(merged)
		if err := atomicfile.WriteJSON(s.fs, path, merged); err != nil {
			return fmt.Errorf("запись дневного файла %s: %w", path, err)
		}
		metrics.AddMerged(ch.Name, added)
		logger.Info().Str("day", day).Int("count", added).Str("path", path).Msg("history: новые сообщения сохранены")
		s.publish(ctx, domain.Event{Kind: domain.EventDayMerged, Channel: ch.Name, Day: day, Count: added, Path: path})
	}

	for _, m := range run {
		if !m.HasFiles() {
			continue
		}
		if err := s.files.AddMessage(ctx, m); err != nil {
			return fmt.Errorf("постановка файлов в очередь: %w", err)
		}
	}
	return nil
}

func (s *Syncer) bootstrap(ch domain.Channel, logger zerolog.Logger) error {
	dir := s.Dir(ch)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("создание каталога канала: %w", err)
	}
	if ch.Name == "" || ch.Name == ch.DirName() || strings.ContainsRune(ch.Name, filepath.Separator) {
		return nil
	}
	alias := filepath.Join(s.root, ch.Name)
	if exists, err := lexists(s.fs, alias); err != nil || exists {
		return err
	}
	linker, ok := s.fs.(afero.Linker)
	if !ok {
		logger.Debug().Msg("history: файловая система без symlink, алиас не создан")
		return nil
	}
	if err := linker.SymlinkIfPossible(ch.DirName(), alias); err != nil {
		if errors.Is(err, afero.ErrNoSymlink) {
			logger.Debug().Msg("history: файловая система без symlink, алиас не создан")
			return nil
		}
		return fmt.Errorf("создание алиаса канала: %w", err)
	}
	return nil
}

func (s *Syncer) dayFiles(ch domain.Channel) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.Dir(ch))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение каталога канала: %w", err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, dayFileExt) {
			continue
		}
		paths = append(paths, filepath.Join(s.Dir(ch), name))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Syncer) loadDay(path string) ([]domain.Message, error) {
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение дневного файла %s: %w", path, err)
	}
	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("разбор дневного файла %s: %w", path, err)
	}
	return msgs, nil
}

func (s *Syncer) publish(ctx context.Context, event domain.Event) {
	if s.opts.Publisher == nil {
		return
	}
	event.RunID = s.opts.RunID
	event.Archive = s.opts.Archive
	event.At = time.Now().UTC()
	if err := s.opts.Publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("history: не удалось опубликовать событие")
	}
}

func sortByTS(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].TS.Compare(msgs[j].TS) < 0
	})
}

// lexists сообщает, есть ли запись по пути, не проходя по symlink.
func lexists(fs afero.Fs, path string) (bool, error) {
	var err error
	if l, ok := fs.(afero.Lstater); ok {
		_, _, err = l.LstatIfPossible(path)
	} else {
		_, err = fs.Stat(path)
	}
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
