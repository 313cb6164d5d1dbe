// RecallAI - оболочка ассистента для интервью.
//
// Запускает и контролирует бэкенд, показывает найденные карточки поверх
// окон и живёт в системном трее. Локальный мост (HTTP + websocket)
// позволяет управлять оболочкой из браузера или скриптов.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recallai/internal/app"
	"recallai/internal/config"
	"recallai/internal/hotkey"
	"recallai/internal/logging"
)

// Version устанавливается при сборке через -ldflags.
var Version = "dev"

// options - глобальные флаги командной строки.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "recallai",
		Short: "Interview assistant shell",
		Long: `RecallAI supervises the interview backend, shows matched knowledge
cards in a floating window and lives in the system tray.

Without a subcommand the tray application is started.`,
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", logging.FormatConsole, "log format: console or json")

	root.AddCommand(
		newSuperviseCmd(opts),
		newStatusCmd(opts),
		newHotkeyCmd(opts),
		newVersionCmd(),
	)
	return root
}

// setup загружает конфигурацию и создаёт логгер.
func (o *options) setup() (*config.Config, *zap.Logger, error) {
	logger, err := logging.New(o.logLevel, o.logFormat)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

// runTray запускает приложение с треем в главном потоке
// (требование для macOS и некоторых GUI).
func runTray(opts *options) error {
	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("RecallAI is starting", zap.String("version", Version), zap.String("config", cfg.Path()))

	var runErr error
	hotkey.RunOnMainThread(func() {
		application, err := app.New(cfg, logger)
		if err != nil {
			runErr = fmt.Errorf("init: %w", err)
			return
		}
		runErr = application.Run()
	})
	if runErr != nil {
		logger.Error("application stopped with error", zap.Error(runErr))
	}
	return runErr
}
