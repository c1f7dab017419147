// Package slack реализует domain.HistorySource поверх Slack Web API.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"slack-archiver/internal/domain"
	"slack-archiver/internal/infra/metrics"
)

// DefaultBaseURL адрес Slack Web API.
const DefaultBaseURL = "https://slack.com/api"

const historyMethod = "conversations.history"

// APIError ответ Slack с ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, domain.ErrRemoteAPI).
func (e *APIError) Unwrap() error {
	return domain.ErrRemoteAPI
}

// Client клиент Slack Web API.
type Client struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
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

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetries задаёт число повторов и границы паузы между ними.
func WithRetries(n uint64, initial, max time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

// New создаёт клиента. Пустой baseURL означает DefaultBaseURL.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("slack token is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		maxRetries:     5,
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type historyResponse struct {
	OK               bool             `json:"ok"`
	Error            string           `json:"error"`
	Messages         []domain.Message `json:"messages"`
	HasMore          bool             `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// FetchHistory выгружает все сообщения канала новее since.
// Slack отдаёт страницы от новых к старым и листает их по next_cursor, поэтому диапазон
// выбирается целиком (limit ограничивает одну страницу Slack) и возвращается по возрастанию ts.
func (c *Client) FetchHistory(ctx context.Context, channelID string, since domain.Timestamp, limit int) (domain.HistoryPage, error) {
	var (
		messages []domain.Message
		cursor   string
		seen     = make(map[string]struct{})
	)
	for {
		params := url.Values{}
		params.Set("channel", channelID)
		params.Set("oldest", since.String())
		if limit > 0 {
			params.Set("limit", strconv.Itoa(limit))
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var out historyResponse
		if err := c.call(ctx, historyMethod, channelID, params, &out); err != nil {
			return domain.HistoryPage{}, err
		}
		if !out.OK {
			return domain.HistoryPage{}, &APIError{Method: historyMethod, Code: out.Error}
		}
		messages = append(messages, out.Messages...)
		if !out.HasMore {
			break
		}

		next := out.ResponseMetadata.NextCursor
		if next == "" {
			return domain.HistoryPage{}, fmt.Errorf("%w: %s: has_more without next_cursor", domain.ErrRemoteAPI, historyMethod)
		}
		if _, ok := seen[next]; ok {
			return domain.HistoryPage{}, fmt.Errorf("%w: %s: cursor %q repeated", domain.ErrRemoteAPI, historyMethod, next)
		}
		seen[next] = struct{}{}
		cursor = next
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].TS.Compare(messages[j].TS) < 0
	})
	return domain.HistoryPage{Messages: messages}, nil
}

// call выполняет GET метода с повторами на 429 и 5xx.
func (c *Client) call(ctx context.Context, method, target string, params url.Values, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	endpoint := c.baseURL + "/" + method + "?" + params.Encode()
	op := func() error {
		start := time.Now()
		err := c.do(ctx, endpoint, out)
		metrics.ObserveNetworkRequest("slack", method, target, start, err)
		return err
	}
	if err := backoff.Retry(op, retry); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(resp.Header.Get("Retry-After"))
		if wait > 0 {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(wait):
			}
		}
		return fmt.Errorf("rate limited: retry after %s", wait)
	case resp.StatusCode >= http.StatusInternalServerError:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrRemoteAPI, resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func retryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
