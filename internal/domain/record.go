package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// field известное поле записи: ключ JSON и указатель на типизированное значение.
type field struct {
	key string
	ptr any
}

// decodeRecord раскладывает JSON-объект по известным полям.
// extra хранит неизвестные ключи, known исходные байты известных ключей, которые были в объекте.
func decodeRecord(data []byte, fields []field) (extra, known map[string]json.RawMessage, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.ptr); err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", f.key, err)
		}
		if known == nil {
			known = make(map[string]json.RawMessage, len(fields))
		}
		known[f.key] = v
		delete(raw, f.key)
	}
	if len(raw) == 0 {
		raw = nil
	}
	return raw, known, nil
}

// encodeRecord собирает объект из остатка и известных полей.
// Поле, пришедшее во входном объекте и не изменённое с тех пор, пишется исходными байтами.
// Отсутствовавшее поле пишется, только если его значение непустое.
func encodeRecord(extra, known map[string]json.RawMessage, fields []field) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(extra)+len(fields))
	for k, v := range extra {
		out[k] = v
	}
	for _, f := range fields {
		value := reflect.ValueOf(f.ptr).Elem()
		orig, present := known[f.key]
		if !present && value.IsZero() {
			continue
		}
		current, err := MarshalJSON(value.Interface())
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.key, err)
		}
		if present && unchanged(orig, value.Type(), current) {
			out[f.key] = orig
			continue
		}
		out[f.key] = current
	}
	return MarshalJSON(out)
}

// unchanged сообщает, кодируется ли orig после разбора в тип typ так же, как current.
func unchanged(orig json.RawMessage, typ reflect.Type, current []byte) bool {
	fresh := reflect.New(typ)
	if err := json.Unmarshal(orig, fresh.Interface()); err != nil {
		return false
	}
	canonical, err := MarshalJSON(fresh.Elem().Interface())
	if err != nil {
		return false
	}
	return bytes.Equal(canonical, current)
}

// MarshalJSON кодирует значение без HTML-экранирования и без завершающего перевода строки.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
