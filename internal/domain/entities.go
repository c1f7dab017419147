package domain

import (
	"encoding/json"
	"fmt"
)

// Channel описывает канал из channels.json.
type Channel struct {
	ID    string
	Name  string
	Extra map[string]json.RawMessage

	known map[string]json.RawMessage
}

// DirName возвращает имя каноничного каталога канала внутри архива.
func (c Channel) DirName() string {
	return "_channel-" + c.ID
}

// UnmarshalJSON разбирает канал, сохраняя неизвестные поля.
func (c *Channel) UnmarshalJSON(data []byte) error {
	extra, known, err := decodeRecord(data, []field{
		{key: "id", ptr: &c.ID},
		{key: "name", ptr: &c.Name},
	})
	if err != nil {
		return fmt.Errorf("decode channel: %w", err)
	}
	c.Extra, c.known = extra, known
	return nil
}

// MarshalJSON собирает канал обратно вместе с неизвестными полями.
func (c Channel) MarshalJSON() ([]byte, error) {
	return encodeRecord(c.Extra, c.known, []field{
		{key: "id", ptr: &c.ID},
		{key: "name", ptr: &c.Name},
	})
}

// Message представляет запись истории канала.
type Message struct {
	Type        string
	Subtype     string
	TS          Timestamp
	User        string
	Text        string
	File        *File
	Files       []File
	Attachments []Attachment
	Extra       map[string]json.RawMessage

	known map[string]json.RawMessage
}

// UnmarshalJSON разбирает сообщение: известные поля типизированы, остальные попадают в Extra.
func (m *Message) UnmarshalJSON(data []byte) error {
	extra, known, err := decodeRecord(data, []field{
		{key: "type", ptr: &m.Type},
		{key: "subtype", ptr: &m.Subtype},
		{key: "ts", ptr: &m.TS},
		{key: "user", ptr: &m.User},
		{key: "text", ptr: &m.Text},
		{key: "file", ptr: &m.File},
		{key: "files", ptr: &m.Files},
		{key: "attachments", ptr: &m.Attachments},
	})
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	m.Extra, m.known = extra, known
	return nil
}

// MarshalJSON собирает сообщение. Поля, прочитанные из JSON, возвращаются в исходном виде.
func (m Message) MarshalJSON() ([]byte, error) {
	return encodeRecord(m.Extra, m.known, []field{
		{key: "type", ptr: &m.Type},
		{key: "subtype", ptr: &m.Subtype},
		{key: "ts", ptr: &m.TS},
		{key: "user", ptr: &m.User},
		{key: "text", ptr: &m.Text},
		{key: "file", ptr: &m.File},
		{key: "files", ptr: &m.Files},
		{key: "attachments", ptr: &m.Attachments},
	})
}

// HasFiles сообщает, ссылается ли сообщение на файлы или вложения.
func (m Message) HasFiles() bool {
	return m.File != nil || len(m.Files) > 0 || len(m.Attachments) > 0
}

// FileRefs возвращает все ссылки на файлы сообщения в порядке появления.
func (m Message) FileRefs() []FileRef {
	var refs []FileRef
	if m.File != nil {
		refs = append(refs, m.File.refs()...)
	}
	for _, f := range m.Files {
		refs = append(refs, f.refs()...)
	}
	for _, a := range m.Attachments {
		refs = append(refs, a.refs()...)
	}
	return refs
}

// File описывает файл, прикреплённый к сообщению.
type File struct {
	ID                 string
	Name               string
	Mimetype           string
	URLPrivateDownload string
	Thumb480           string
	Extra              map[string]json.RawMessage

	known map[string]json.RawMessage
}

func (f File) refs() []FileRef {
	return pluck(
		FileRef{Label: "url_private_download", URL: f.URLPrivateDownload},
		FileRef{Label: "thumb_480", URL: f.Thumb480},
	)
}

// UnmarshalJSON разбирает описание файла.
func (f *File) UnmarshalJSON(data []byte) error {
	extra, known, err := decodeRecord(data, []field{
		{key: "id", ptr: &f.ID},
		{key: "name", ptr: &f.Name},
		{key: "mimetype", ptr: &f.Mimetype},
		{key: "url_private_download", ptr: &f.URLPrivateDownload},
		{key: "thumb_480", ptr: &f.Thumb480},
	})
	if err != nil {
		return fmt.Errorf("decode file: %w", err)
	}
	f.Extra, f.known = extra, known
	return nil
}

// MarshalJSON собирает описание файла.
func (f File) MarshalJSON() ([]byte, error) {
	return encodeRecord(f.Extra, f.known, []field{
		{key: "id", ptr: &f.ID},
		{key: "name", ptr: &f.Name},
		{key: "mimetype", ptr: &f.Mimetype},
		{key: "url_private_download", ptr: &f.URLPrivateDownload},
		{key: "thumb_480", ptr: &f.Thumb480},
	})
}

// Attachment описывает вложение сообщения (unfurl ссылки, сервисная карточка).
type Attachment struct {
	ServiceIcon string
	ThumbURL    string
	Extra       map[string]json.RawMessage

	known map[string]json.RawMessage
}

func (a Attachment) refs() []FileRef {
	return pluck(
		FileRef{Label: "service_icon", URL: a.ServiceIcon},
		FileRef{Label: "thumb_url", URL: a.ThumbURL},
	)
}

// UnmarshalJSON разбирает вложение.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	extra, known, err := decodeRecord(data, []field{
		{key: "service_icon", ptr: &a.ServiceIcon},
		{key: "thumb_url", ptr: &a.ThumbURL},
	})
	if err != nil {
		return fmt.Errorf("decode attachment: %w", err)
	}
	a.Extra, a.known = extra, known
	return nil
}

// MarshalJSON собирает вложение.
func (a Attachment) MarshalJSON() ([]byte, error) {
	return encodeRecord(a.Extra, a.known, []field{
		{key: "service_icon", ptr: &a.ServiceIcon},
		{key: "thumb_url", ptr: &a.ThumbURL},
	})
}

// FileRef ссылка на файл: имя исходного поля служит подсказкой о типе содержимого.
type FileRef struct {
	Label string
	URL   string
}

func pluck(refs ...FileRef) []FileRef {
	out := refs[:0]
	for _, r := range refs {
		if r.URL != "" {
			out = append(out, r)
		}
	}
	return out
}
