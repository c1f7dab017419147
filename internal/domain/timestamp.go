package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp хранит ts сообщения в виде строки "<секунды>.<доли>", как его отдаёт Slack.
// Пустое значение соответствует началу эпохи.
type Timestamp string

// UnmarshalJSON принимает как строку, так и число.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case s == "null":
		*t = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*t = Timestamp(v)
		return nil
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidTimestamp, s)
		}
		*t = Timestamp(s)
		return nil
	}
}

// IsZero сообщает, что курсор ещё не установлен.
func (t Timestamp) IsZero() bool {
	sec, nsec, err := t.parts()
	return err == nil && sec == 0 && nsec == 0
}

// String возвращает значение для запросов к API; пустой курсор превращается в "0".
func (t Timestamp) String() string {
	if t == "" {
		return "0"
	}
	return string(t)
}

// Compare сравнивает метки численно, без потери точности на float64.
// Некорректные значения считаются равными началу эпохи.
func (t Timestamp) Compare(other Timestamp) int {
	as, an, _ := t.parts()
	bs, bn, _ := other.parts()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return 0
}

// Time переводит метку во время.
func (t Timestamp) Time() (time.Time, error) {
	sec, nsec, err := t.parts()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, nsec), nil
}

// Day возвращает календарный день метки (YYYY-MM-DD) в указанной зоне.
func (t Timestamp) Day(loc *time.Location) (string, error) {
	tm, err := t.Time()
	if err != nil {
		return "", err
	}
	if loc == nil {
		loc = time.Local
	}
	return tm.In(loc).Format(time.DateOnly), nil
}

func (t Timestamp) parts() (int64, int64, error) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return 0, 0, nil
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || sec < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	if frac == "" {
		return sec, 0, nil
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))
	nsec, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || nsec < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return sec, nsec, nil
}
