package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type options struct {
	configPath         string
	downloadEverything bool
	yes                bool
}

// exitError несёт код выхода процесса.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "archiver [token:path ...]",
		Short:         "Инкрементальный архиватор Slack",
		Long:          "Дописывает новые сообщения каналов в дневные файлы архива и скачивает вложения.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML со списком архивов (по умолчанию ~/.slack-archiver/config.yaml)")
	cmd.Flags().BoolVarP(&opts.downloadEverything, "download-everything", "d", false, "заново поставить в очередь файлы всех сообщений")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "не спрашивать подтверждение миграции")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "archiver:", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}
