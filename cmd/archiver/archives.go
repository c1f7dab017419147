package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"slack-archiver/internal/infra/config"
)

// resolveArchives собирает список архивов из аргументов или YAML-файла.
// Файл по умолчанию читается, только если он существует и аргументов нет.
func resolveArchives(args []string, configPath string, explicit bool) ([]config.Archive, error) {
	if len(args) > 0 {
		out := make([]config.Archive, 0, len(args))
		for _, arg := range args {
			a := config.ParseArchiveArg(arg)
			if a.Dir == "" {
				return nil, fmt.Errorf("пустой путь архива в %q", arg)
			}
			out = append(out, a)
		}
		return out, nil
	}
	path := configPath
	if path == "" {
		path = config.DefaultArchivesFile()
	}
	path = config.ExpandHome(path)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return nil, nil
	}
	return config.LoadArchivesFile(path)
}

// existingArchives оставляет архивы, каталог которых существует. Остальные пропускаются с ошибкой в логе.
func existingArchives(archives []config.Archive, logger zerolog.Logger) []config.Archive {
	out := make([]config.Archive, 0, len(archives))
	for _, a := range archives {
		fi, err := os.Stat(a.Dir)
		if err == nil && fi.IsDir() {
			out = append(out, a)
			continue
		}
		logger.Error().Err(err).Str("archive", a.Name).Str("dir", a.Dir).Msg("archiver: путь архива не является каталогом, пропуск")
	}
	return out
}

// prompter задаёт вопросы в терминале.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// Token спрашивает токен Slack для архива.
func (p *prompter) Token(name string) (string, error) {
	fmt.Fprintf(p.out, "Slack token for %s: ", name)
	line, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("чтение токена: %w", err)
	}
	if line == "" {
		return "", fmt.Errorf("токен для %s не указан", name)
	}
	return line, nil
}

// Confirm выводит сообщение и спрашивает "Continue? Y/n". Пустой ответ означает да.
func (p *prompter) Confirm(message string) (bool, error) {
	fmt.Fprintln(p.out, message)
	fmt.Fprint(p.out, "Continue? Y/n ")
	line, err := p.readLine()
	if err != nil {
		return false, fmt.Errorf("чтение ответа: %w", err)
	}
	switch strings.ToLower(line) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
