package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// FormatConsole человекочитаемый вывод вместо JSON.
const FormatConsole = "console"

// NewLogger создаёт настроенный zerolog, пишущий в stdout.
func NewLogger(appEnv, format string) zerolog.Logger {
	return New(os.Stdout, appEnv, format)
}

// New создаёт zerolog поверх w: debug в dev, иначе info; JSON или консольный формат.
func New(w io.Writer, appEnv, format string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}
