package download

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// FailureStatus пишется в meta-файл, когда запрос не дошёл до ответа.
const FailureStatus = 999

// FormatMeta собирает содержимое meta-файла: статус, затем заголовки "Key: value" по алфавиту.
func FormatMeta(status int, header http.Header) []byte {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+strings.Join(header[k], ", "))
	}
	return []byte(fmt.Sprintf("%d\n%s", status, strings.Join(lines, "\n")))
}

// FormatFailureMeta собирает meta-файл транспортной ошибки.
func FormatFailureMeta(err error) []byte {
	return []byte(fmt.Sprintf("%d\nException: %v", FailureStatus, err))
}
