package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMessagePreservesUnknownFields(t *testing.T) {
	in := `{"type":"message","ts":"1.000001","text":"hi","reactions":[{"name":"+1","count":2}],"edited":{"user":"U1"}}`

	var msg Message
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.TS != "1.000001" || msg.Text != "hi" {
		t.Fatalf("unexpected known fields: %+v", msg)
	}
	if _, ok := msg.Extra["reactions"]; !ok {
		t.Fatalf("reactions lost: %v", msg.Extra)
	}

	out, err := MarshalJSON(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var want, got map[string]any
	if err := json.Unmarshal([]byte(in), &want); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("round trip mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestMessageFileRefs(t *testing.T) {
	in := `{
		"type": "message",
		"ts": "2.0",
		"file": {"id": "F1", "url_private_download": "https://files.slack.com/a.png", "thumb_480": "https://files.slack.com/a_480.png"},
		"files": [{"id": "F2", "url_private_download": "https://files.slack.com/b.pdf"}],
		"attachments": [{"service_icon": "https://example.com/icon.png"}, {"thumb_url": "https://example.com/t.jpg", "title": "x"}]
	}`
	var msg Message
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.HasFiles() {
		t.Fatalf("HasFiles must be true")
	}

	want := []FileRef{
		{Label: "url_private_download", URL: "https://files.slack.com/a.png"},
		{Label: "thumb_480", URL: "https://files.slack.com/a_480.png"},
		{Label: "url_private_download", URL: "https://files.slack.com/b.pdf"},
		{Label: "service_icon", URL: "https://example.com/icon.png"},
		{Label: "thumb_url", URL: "https://example.com/t.jpg"},
	}
	if got := msg.FileRefs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("FileRefs mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestMessageWithoutFiles(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"type":"message","ts":"3.0","text":"plain"}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.HasFiles() || len(msg.FileRefs()) != 0 {
		t.Fatalf("plain message must not have files")
	}
}

func TestChannelDirName(t *testing.T) {
	var ch Channel
	if err := json.Unmarshal([]byte(`{"id":"C024BE91L","name":"general","is_general":true}`), &ch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ch.DirName() != "_channel-C024BE91L" {
		t.Fatalf("unexpected dir name %s", ch.DirName())
	}
	if string(ch.Extra["is_general"]) != "true" {
		t.Fatalf("passthrough field lost: %v", ch.Extra)
	}
}

func TestTargetJSON(t *testing.T) {
	data, err := json.Marshal([]Target{{URL: "https://x/y", Path: "/a/b"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[["https://x/y","/a/b"]]` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var back []Target
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[0].URL != "https://x/y" || back[0].Path != "/a/b" {
		t.Fatalf("unexpected target %+v", back[0])
	}

	var bad Target
	if err := json.Unmarshal([]byte(`["only-url"]`), &bad); err == nil {
		t.Fatalf("expected error for single-item target")
	}
}

func TestMessageReencodesKnownFieldsAsRead(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty and null known fields", in: `{"subtype":"","ts":"1704153600.000100","user":null,"x":1}`},
		{name: "numeric ts", in: `{"ts":1704153600.0001,"type":"message"}`},
		{name: "no type or text", in: `{"ts":"1.000001"}`},
		{name: "nested file with null", in: `{"files":[{"id":"F1","name":null,"url_private_download":"https://files.slack.com/a"}],"ts":"2.0"}`},
		{name: "attachment with empty url", in: `{"attachments":[{"service_icon":"","title":"t"}],"ts":"2.0"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			if err := json.Unmarshal([]byte(tt.in), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			out, err := MarshalJSON(msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(out) != tt.in {
				t.Fatalf("re-encode mismatch:\nwant %s\ngot  %s", tt.in, out)
			}
		})
	}
}

func TestMessageEncodesChangedFields(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"text":"","ts":1.5,"user":null}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg.Text = "edited"
	msg.User = "U1"

	out, err := MarshalJSON(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"text":"edited","ts":1.5,"user":"U1"}`; string(out) != want {
		t.Fatalf("unexpected encoding:\nwant %s\ngot  %s", want, out)
	}
}

func TestMessageBuiltInCodeOmitsEmptyFields(t *testing.T) {
	out, err := MarshalJSON(Message{Type: "message", TS: "3.0"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"ts":"3.0","type":"message"}`; string(out) != want {
		t.Fatalf("unexpected encoding:\nwant %s\ngot  %s", want, out)
	}
}
