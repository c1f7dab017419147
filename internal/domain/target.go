package domain

import (
	"encoding/json"
	"fmt"
)

// Target пара (URL, путь назначения) для загрузки.
// В JSON хранится как массив [url, path], как в pending.json.
type Target struct {
	URL  string
	Path string
}

// MarshalJSON кодирует цель как двухэлементный массив.
func (t Target) MarshalJSON() ([]byte, error) {
	return MarshalJSON([2]string{t.URL, t.Path})
}

// UnmarshalJSON разбирает двухэлементный массив.
func (t *Target) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode target: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode target: expected [url, path], got %d items", len(pair))
	}
	t.URL, t.Path = pair[0], pair[1]
	return nil
}
