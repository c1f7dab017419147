// Package download реализует очередь загрузки файлов архива с пулом воркеров.
// Очередь переживает перезапуск через pending.json, а метки в lock set не дают
// двум воркерам качать один и тот же файл.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"slack-archiver/internal/domain"
	"slack-archiver/internal/infra/atomicfile"
	"slack-archiver/internal/infra/lock"
	"slack-archiver/internal/infra/metrics"
)

// PendingName файл снимка очереди в корне загрузок.
const PendingName = "pending.json"

const (
	defaultWorkers   = 10
	defaultQueueSize = 5000
	defaultChunkSize = 4096
	defaultMaxFaults = 3
)

// ErrStopped возвращается из Add после остановки загрузчика.
var ErrStopped = errors.New("загрузчик остановлен")

// Options настраивает Downloader. Нулевые значения заменяются значениями по умолчанию.
type Options struct {
	Workers   int
	QueueSize int
	ChunkSize int
	// MaxFaults сколько раз цель может уронить воркер, прежде чем её выбросят.
	MaxFaults int
	// Locks по умолчанию метки-каталоги в <root>/_lockdir.
	Locks     domain.LockSet
	Publisher domain.EventPublisher
	Logger    zerolog.Logger
	RunID     string
	Archive   string
}

type item struct {
	domain.Target
	faults int
}

// Downloader очередь загрузки с фиксированным пулом воркеров.
type Downloader struct {
	fs      afero.Fs
	root    string
	fetcher domain.Fetcher
	locks   domain.LockSet
	opts    Options
	logger  zerolog.Logger

	queue chan *item

	mu       sync.Mutex
	overflow []*item

	stop     chan struct{}
	stopOnce sync.Once
	joinOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	processed atomic.Int64
}

// New готовит каталог загрузок, сбрасывает метки, поднимает pending.json и запускает воркеров.
func New(ctx context.Context, fs afero.Fs, root string, fetcher domain.Fetcher, opts Options) (*Downloader, error) {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MaxFaults <= 0 {
		opts.MaxFaults = defaultMaxFaults
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога загрузок: %w", err)
	}
	locks := opts.Locks
	if locks == nil {
		locks = lock.NewDirSet(fs, filepath.Join(root, lock.DirName))
	}
	if err := locks.Reset(ctx); err != nil {
		return nil, fmt.Errorf("сброс меток: %w", err)
	}

	d := &Downloader{
		fs:      fs,
		root:    root,
		fetcher: fetcher,
		locks:   locks,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "download").Logger(),
		queue:   make(chan *item, opts.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	pending, err := d.loadPending()
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		d.offer(&item{Target: t})
	}
	if len(pending) > 0 {
		d.logger.Info().Int("count", len(pending)).Msg("download: восстановлена очередь из pending.json")
	}
	metrics.SetQueueDepth(d.Len())

	workerCtx := context.WithoutCancel(ctx)
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(workerCtx)
	}
	go func() {
		d.wg.Wait()
		close(d.done)
	}()
	return d, nil
}

// Root возвращает каталог загрузок.
func (d *Downloader) Root() string {
	return d.root
}

// Target строит цель загрузки для URL.
func (d *Downloader) Target(rawURL string) domain.Target {
	return domain.Target{URL: rawURL, Path: filepath.Join(d.root, URLToFilename(rawURL))}
}

// Add ставит в очередь файлы, которых ещё нет на диске. Блокируется, пока в очереди нет места.
func (d *Downloader) Add(ctx context.Context, refs []domain.FileRef) error {
	for _, ref := range refs {
		if ref.URL == "" {
			continue
		}
		t := d.Target(ref.URL)
		if d.exists(t.Path) {
			continue
		}
		select {
		case <-d.stop:
			return ErrStopped
		default:
		}
		select {
		case d.queue <- &item{Target: t}:
			metrics.SetQueueDepth(d.Len())
		case <-d.stop:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AddMessage ставит в очередь все файлы сообщения.
func (d *Downloader) AddMessage(ctx context.Context, msg domain.Message) error {
	return d.Add(ctx, msg.FileRefs())
}

// Len возвращает число целей, ожидающих обработки.
func (d *Downloader) Len() int {
	d.mu.Lock()
	n := len(d.overflow)
	d.mu.Unlock()
	return n + len(d.queue)
}

// Processed возвращает число скачанных файлов за запуск.
func (d *Downloader) Processed() int64 {
	return d.processed.Load()
}

// Join дожидается, пока воркеры разберут всё, что уже стоит в очереди, и завершатся.
func (d *Downloader) Join() {
	d.joinOnce.Do(func() {
	send:
		for i := 0; i < d.opts.Workers; i++ {
			select {
			case d.queue <- nil:
			case <-d.done:
				break send
			}
		}
	})
	<-d.done
}

// Stop просит воркеров завершиться после текущей загрузки, не беря новых целей.
func (d *Downloader) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

// Close сохраняет необработанные цели в pending.json или удаляет его, если очередь пуста.
// Если воркеры ещё работают, сначала вызывается Stop.
func (d *Downloader) Close() error {
	d.closeOnce.Do(func() {
		select {
		case <-d.done:
		default:
			d.Stop()
		}
		d.closeErr = d.writePending(d.drain())
	})
	return d.closeErr
}

func (d *Downloader) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		it, ok := d.next()
		if !ok {
			return
		}
		select {
		case <-d.stop:
			d.keep(it)
			return
		default:
		}
		d.process(ctx, it)
		metrics.SetQueueDepth(d.Len())
	}
}

// next отдаёт сначала цели из переполнения, затем из канала. false означает сигнал остановки.
func (d *Downloader) next() (*item, bool) {
	select {
	case <-d.stop:
		return nil, false
	default:
	}
	d.mu.Lock()
	if len(d.overflow) > 0 {
		it := d.overflow[0]
		d.overflow = d.overflow[1:]
		d.mu.Unlock()
		return it, true
	}
	d.mu.Unlock()

	select {
	case <-d.stop:
		return nil, false
	case it := <-d.queue:
		if it == nil {
			return nil, false
		}
		return it, true
	}
}

func (d *Downloader) process(ctx context.Context, it *item) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("url", it.URL).Msg("download: сбой воркера")
			d.retry(it)
		}
	}()
	if err := d.download(ctx, it.Target); err != nil {
		d.logger.Error().Err(err).Str("url", it.URL).Str("path", it.Path).Msg("download: не удалось сохранить файл")
		d.retry(it)
	}
}

func (d *Downloader) download(ctx context.Context, t domain.Target) error {
	if d.exists(t.Path) {
		return nil
	}
	key := filepath.Base(t.Path)
	ok, err := d.locks.TryAcquire(ctx, key)
	if err != nil {
		return fmt.Errorf("захват метки: %w", err)
	}
	if !ok {
		d.logger.Debug().Str("url", t.URL).Msg("download: файл уже качает другой воркер")
		metrics.IncDownload(metrics.DownloadSkipped)
		return nil
	}
	defer func() {
		if err := d.locks.Release(ctx, key); err != nil {
			d.logger.Error().Err(err).Str("key", key).Msg("download: не удалось снять метку")
		}
	}()
	if d.exists(t.Path) {
		return nil
	}

	start := time.Now()
	resp, err := d.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		return d.fail(ctx, t, err)
	}
	defer resp.Body.Close()

	content, err := atomicfile.Create(d.fs, t.Path)
	if err != nil {
		return err
	}
	defer content.Abort()
	n, err := d.copyChunks(content, resp.Body)
	if err != nil {
		content.Abort()
		return d.fail(ctx, t, err)
	}
	if err := atomicfile.WriteFile(d.fs, MetaPath(t.Path), FormatMeta(resp.StatusCode, resp.Header)); err != nil {
		content.Abort()
		return fmt.Errorf("запись meta: %w", err)
	}
	if err := content.Close(); err != nil {
		return fmt.Errorf("фиксация файла: %w", err)
	}

	count := d.processed.Add(1)
	metrics.IncDownload(metrics.DownloadOK)
	metrics.AddDownloadBytes(n)
	d.logger.Info().
		Int64("count", count).
		Int("left", d.Len()).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Str("url", t.URL).
		Msg("download: файл скачан")
	d.publish(ctx, domain.Event{Kind: domain.EventFileDownloaded, URL: t.URL, Path: t.Path, Status: resp.StatusCode})
	return nil
}

// fail записывает meta-файл транспортной ошибки. Файл содержимого не создаётся.
func (d *Downloader) fail(ctx context.Context, t domain.Target, cause error) error {
	if err := atomicfile.WriteFile(d.fs, MetaPath(t.Path), FormatFailureMeta(cause)); err != nil {
		return fmt.Errorf("запись meta ошибки: %w", err)
	}
	metrics.IncDownload(metrics.DownloadFailed)
	d.logger.Warn().Err(cause).Str("url", t.URL).Msg("download: ошибка загрузки")
	d.publish(ctx, domain.Event{Kind: domain.EventFileFailed, URL: t.URL, Path: t.Path, Status: FailureStatus})
	return nil
}

func (d *Downloader) copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, d.opts.ChunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// retry возвращает цель в список переполнения, пока не исчерпан лимит сбоев.
// Воркеры разбирают переполнение раньше канала, поэтому цель не встанет за сигналом остановки.
func (d *Downloader) retry(it *item) {
	it.faults++
	if it.faults >= d.opts.MaxFaults {
		metrics.IncDownload(metrics.DownloadDropped)
		d.logger.Error().Int("faults", it.faults).Str("url", it.URL).Msg("download: цель выброшена после повторных сбоев")
		return
	}
	metrics.IncDownload(metrics.DownloadRetried)
	d.keep(it)
}

// offer кладёт цель в канал без блокировки, а при заполненном канале в список переполнения.
func (d *Downloader) offer(it *item) {
	select {
	case d.queue <- it:
	default:
		d.keep(it)
	}
}

func (d *Downloader) keep(it *item) {
	d.mu.Lock()
	d.overflow = append(d.overflow, it)
	d.mu.Unlock()
}

func (d *Downloader) drain() []domain.Target {
	d.mu.Lock()
	rest := d.overflow
	d.overflow = nil
	d.mu.Unlock()

	out := make([]domain.Target, 0, len(rest)+len(d.queue))
	for _, it := range rest {
		out = append(out, it.Target)
	}
	for {
		select {
		case it := <-d.queue:
			if it != nil {
				out = append(out, it.Target)
			}
		default:
			return out
		}
	}
}

func (d *Downloader) pendingPath() string {
	return filepath.Join(d.root, PendingName)
}

func (d *Downloader) loadPending() ([]domain.Target, error) {
	data, err := afero.ReadFile(d.fs, d.pendingPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение pending: %w", err)
	}
	var targets []domain.Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("разбор pending: %w", err)
	}
	return targets, nil
}

func (d *Downloader) writePending(targets []domain.Target) error {
	metrics.SetQueueDepth(len(targets))
	if len(targets) == 0 {
		if err := d.fs.Remove(d.pendingPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("удаление pending: %w", err)
		}
		return nil
	}
	if err := atomicfile.WriteJSON(d.fs, d.pendingPath(), targets); err != nil {
		return fmt.Errorf("запись pending: %w", err)
	}
	d.logger.Info().Int("count", len(targets)).Msg("download: очередь сохранена в pending.json")
	return nil
}

func (d *Downloader) exists(path string) bool {
	ok, err := afero.Exists(d.fs, path)
	return err == nil && ok
}

func (d *Downloader) publish(ctx context.Context, event domain.Event) {
	if d.opts.Publisher == nil {
		return
	}
	event.RunID = d.opts.RunID
	event.Archive = d.opts.Archive
	event.At = time.Now().UTC()
	if err := d.opts.Publisher.Publish(ctx, event); err != nil {
		d.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("download: не удалось опубликовать событие")
	}
}
