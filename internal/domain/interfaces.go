package domain

import (
	"context"
	"io"
	"net/http"
)

// HistoryPage одна страница истории канала.
type HistoryPage struct {
	Messages []Message
	HasMore  bool
}

// HistorySource выгружает историю канала строго новее курсора.
// Сообщения страницы идут по возрастанию ts; HasMore означает, что за последним из них есть ещё записи.
type HistorySource interface {
	FetchHistory(ctx context.Context, channelID string, since Timestamp, limit int) (HistoryPage, error)
}

// Response ответ на HTTP-загрузку файла. Body закрывает вызывающий.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Fetcher скачивает содержимое по URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// LockSet выдаёт взаимоисключающие права на ключи (по одному владельцу на ключ).
type LockSet interface {
	// Reset сбрасывает все метки, оставшиеся от прошлых запусков.
	Reset(ctx context.Context) error
	// TryAcquire захватывает ключ без ожидания. false без ошибки означает, что ключ уже занят.
	TryAcquire(ctx context.Context, key string) (bool, error)
	// Release освобождает ключ.
	Release(ctx context.Context, key string) error
}

// FileEnqueuer принимает сообщения, файлы которых нужно скачать.
type FileEnqueuer interface {
	AddMessage(ctx context.Context, msg Message) error
}
