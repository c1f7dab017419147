package domain

import (
	"context"
	"time"
)

// EventKind тип события архива.
type EventKind string

const (
	// EventDayMerged: в дневной файл канала дописаны новые сообщения.
	EventDayMerged EventKind = "day_merged"
	// EventFileDownloaded: файл скачан и сохранён.
	EventFileDownloaded EventKind = "file_downloaded"
	// EventFileFailed: загрузка файла завершилась транспортной ошибкой.
	EventFileFailed EventKind = "file_failed"
)

// Event описывает изменение в архиве для внешних подписчиков.
type Event struct {
	Kind    EventKind `json:"kind"`
	RunID   string    `json:"run_id,omitempty"`
	Archive string    `json:"archive,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Day     string    `json:"day,omitempty"`
	Count   int       `json:"count,omitempty"`
	URL     string    `json:"url,omitempty"`
	Path    string    `json:"path,omitempty"`
	Status  int       `json:"status,omitempty"`
	At      time.Time `json:"at"`
}

// EventPublisher публикует события архива.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
