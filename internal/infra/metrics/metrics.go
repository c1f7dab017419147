package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_downloads_total",
		Help: "Обработанные цели загрузки по итогу",
	}, []string{"status"})
	DownloadQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "archiver_download_queue_depth",
		Help: "Количество целей в очереди загрузки",
	})
	DownloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_download_bytes_total",
		Help: "Объём скачанных файлов",
	})

	MessagesMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_messages_merged_total",
		Help: "Сообщения, дописанные в дневные файлы",
	}, []string{"channel"})
	ChannelSyncSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "archiver_channel_sync_seconds",
		Help:    "Время синхронизации канала",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300, 600},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// Итоги обработки цели загрузки.
const (
	DownloadOK      = "ok"
	DownloadFailed  = "failed"
	DownloadSkipped = "skipped"
	DownloadRetried = "retried"
	DownloadDropped = "dropped"
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DownloadsTotal,
		DownloadQueueDepth,
		DownloadBytes,
		MessagesMerged,
		ChannelSyncSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncDownload увеличивает счётчик целей с итогом status.
func IncDownload(status string) {
	DownloadsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth выставляет текущую глубину очереди загрузки.
func SetQueueDepth(n int) {
	DownloadQueueDepth.Set(float64(n))
}

// AddDownloadBytes учитывает скачанные байты.
func AddDownloadBytes(n int64) {
	if n > 0 {
		DownloadBytes.Add(float64(n))
	}
}

// AddMerged учитывает сообщения, дописанные в дневные файлы канала.
func AddMerged(channel string, n int) {
	if n > 0 {
		MessagesMerged.WithLabelValues(channel).Add(float64(n))
	}
}

// ObserveChannelSync записывает время синхронизации канала.
func ObserveChannelSync(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ChannelSyncSeconds.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
