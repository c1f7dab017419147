// Package httpfetch скачивает файлы по HTTP для очереди загрузки.
package httpfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slack-archiver/internal/domain"
	"slack-archiver/internal/infra/metrics"
)

// DefaultAuthHost хост приватных файлов Slack, которому нужен токен.
const DefaultAuthHost = "files.slack.com"

// Client реализует domain.Fetcher.
type Client struct {
	httpClient *http.Client
	token      string
	authHosts  map[string]struct{}
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout ограничивает время загрузки одного файла целиком.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAuthHosts задаёт хосты, запросам к которым добавляется Bearer-токен.
func WithAuthHosts(hosts ...string) Option {
	return func(c *Client) {
		c.authHosts = make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				c.authHosts[h] = struct{}{}
			}
		}
	}
}

// New создаёт клиента загрузки. token может быть пустым.
func New(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		token:      token,
		authHosts:  map[string]struct{}{DefaultAuthHost: {}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch выполняет GET. Тело ответа не читается, его закрывает вызывающий.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*domain.Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if _, ok := c.authHosts[strings.ToLower(parsed.Hostname())]; ok && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("httpfetch", "get", parsed.Hostname(), start, err)
	if err != nil {
		return nil, err
	}
	return &domain.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}
