package download

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	slackFilesPrefix = "https://files.slack.com"
	maxNameLen       = 190
	nameEdgeLen      = 50
)

var slackTokenQuery = regexp.MustCompile(`\?t=[^&]*$`)

// URLToFilename переводит URL в имя файла внутри каталога загрузок.
// У файлов Slack отбрасывается одноразовый ?t=..., остальное кодируется процентами;
// слишком длинные имена сокращаются до краёв и sha256 от полного имени.
func URLToFilename(rawURL string) string {
	if strings.HasPrefix(rawURL, slackFilesPrefix) {
		rawURL = slackTokenQuery.ReplaceAllString(rawURL, "")
	}
	name := quote(rawURL)
	if len(name) > maxNameLen {
		sum := sha256.Sum256([]byte(name))
		name = name[:nameEdgeLen] + "+" + hex.EncodeToString(sum[:]) + "+" + name[len(name)-nameEdgeLen:]
	}
	return name
}

// MetaPath возвращает путь файла метаданных для файла содержимого: meta-<name>.txt рядом с ним.
func MetaPath(contentPath string) string {
	return filepath.Join(filepath.Dir(contentPath), "meta-"+filepath.Base(contentPath)+".txt")
}

const upperHex = "0123456789ABCDEF"

// quote оставляет как есть только [A-Za-z0-9_.-], прочие байты превращаются в %XX.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-':
		return true
	}
	return false
}
