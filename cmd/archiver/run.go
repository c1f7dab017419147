package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"slack-archiver/internal/adapters/httpfetch"
	"slack-archiver/internal/adapters/slack"
	"slack-archiver/internal/infra/config"
	apphttp "slack-archiver/internal/infra/http"
	"slack-archiver/internal/infra/lock"
	applog "slack-archiver/internal/infra/log"
	"slack-archiver/internal/infra/metrics"
	"slack-archiver/internal/usecase/archive"
	"slack-archiver/internal/usecase/download"
	"slack-archiver/internal/usecase/history"
)

type runStatus struct {
	RunID   string          `json:"run_id"`
	Archive *archive.Status `json:"archive,omitempty"`
}

func run(cmd *cobra.Command, args []string, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return withCode(1, err)
	}
	runID := uuid.NewString()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogFormat).With().Str("run_id", runID).Logger()
	loc, err := cfg.Location()
	if err != nil {
		return withCode(1, err)
	}

	archives, err := resolveArchives(args, opts.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return withCode(1, err)
	}
	archives = existingArchives(archives, logger)
	if len(archives) == 0 {
		return withCode(1, config.ErrNoArchives)
	}
	prompt := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	for i := range archives {
		if archives[i].Token != "" {
			continue
		}
		token, err := prompt.Token(archives[i].Name)
		if err != nil {
			return withCode(1, err)
		}
		archives[i].Token = token
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := newBackends(ctx, cfg, logger)
	if err != nil {
		return withCode(1, err)
	}
	defer deps.Close()

	var current atomic.Pointer[archive.Archive]
	if cfg.MetricsAddr != "" {
		srv := apphttp.NewServer(logger.With().Str("component", "status").Logger(), prometheus.DefaultGatherer, func() any {
			st := runStatus{RunID: runID}
			if a := current.Load(); a != nil {
				s := a.Status()
				st.Archive = &s
			}
			return st
		})
		srv.Start(ctx, cfg.MetricsAddr)
	}

	r := &runner{
		cfg:     cfg,
		opts:    opts,
		loc:     loc,
		runID:   runID,
		deps:    deps,
		prompt:  prompt,
		current: &current,
		logger:  logger,
	}
	var failed []error
	for _, a := range archives {
		if err := r.archive(ctx, a); err != nil {
			logger.Error().Err(err).Str("archive", a.Name).Msg("archiver: архив обработан с ошибками")
			failed = append(failed, fmt.Errorf("%s: %w", a.Name, err))
		}
		if ctx.Err() != nil {
			logger.Warn().Msg("archiver: получен сигнал, остановка")
			break
		}
	}
	if len(failed) > 0 {
		return withCode(2, errors.Join(failed...))
	}
	logger.Info().Int("archives", len(archives)).Msg("archiver: готово")
	return nil
}

type runner struct {
	cfg     config.AppConfig
	opts    options
	loc     *time.Location
	runID   string
	deps    *backends
	prompt  *prompter
	current *atomic.Pointer[archive.Archive]
	logger  zerolog.Logger
}

func (r *runner) archive(ctx context.Context, entry config.Archive) error {
	logger := r.logger.With().Str("archive", entry.Name).Logger()

	guard, err := lock.AcquireRunGuard(entry.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := guard.Release(); err != nil {
			logger.Warn().Err(err).Msg("archiver: не удалось снять блокировку архива")
		}
	}()

	source, err := slack.New(r.cfg.Slack.APIURL, entry.Token, slack.WithTimeout(r.cfg.Slack.Timeout))
	if err != nil {
		return err
	}
	fetcher := httpfetch.New(entry.Token,
		httpfetch.WithTimeout(r.cfg.Download.Timeout),
		httpfetch.WithAuthHosts(r.cfg.Download.AuthHosts...),
	)

	arch, err := archive.Open(ctx, afero.NewOsFs(), entry.Dir, source, fetcher, archive.Options{
		Download: download.Options{
			Workers:   r.cfg.Download.Workers,
			QueueSize: r.cfg.Download.QueueSize,
			ChunkSize: r.cfg.Download.ChunkSize,
			Locks:     r.deps.LockSet(entry.Dir),
			Publisher: r.deps.publisher,
			RunID:     r.runID,
		},
		History: history.Options{
			PageSize:  r.cfg.Slack.PageSize,
			Location:  r.loc,
			Publisher: r.deps.publisher,
			RunID:     r.runID,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	r.current.Store(arch)
	defer r.current.Store(nil)

	work := r.sync(ctx, arch, logger)
	return errors.Join(work, r.finish(ctx, arch, logger))
}

// sync выполняет миграцию раскладки, пересканирование и синхронизацию каналов.
func (r *runner) sync(ctx context.Context, arch *archive.Archive, logger zerolog.Logger) error {
	upgraded := false
	need, err := arch.NeedsUpgrade()
	if err != nil {
		return err
	}
	if need {
		if !r.opts.yes {
			ok, err := r.prompt.Confirm(fmt.Sprintf("Архив %s в старой раскладке и будет перенесён.", arch.Path()))
			if err != nil {
				return err
			}
			if !ok {
				logger.Info().Msg("archiver: миграция отклонена, архив пропущен")
				return nil
			}
		}
		if err := arch.Upgrade(); err != nil {
			return err
		}
		upgraded = true
	}

	if upgraded || r.opts.downloadEverything {
		if err := arch.DownloadAllFiles(ctx); err != nil {
			return err
		}
	}
	return arch.Refresh(ctx)
}

// finish дожидается очереди загрузки. Сигнал во время ожидания сохраняет остаток в pending.json.
func (r *runner) finish(ctx context.Context, arch *archive.Archive, logger zerolog.Logger) error {
	if ctx.Err() != nil {
		logger.Warn().Int("queue", arch.Status().Queue).Msg("archiver: прерывание, очередь сохраняется")
		return arch.Interrupt()
	}
	done := make(chan error, 1)
	go func() { done <- arch.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Warn().Int("queue", arch.Status().Queue).Msg("archiver: прерывание, очередь сохраняется")
		return errors.Join(arch.Interrupt(), <-done)
	}
}
