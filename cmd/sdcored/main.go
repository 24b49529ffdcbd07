package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xanados/searchdestroy-core/cmd"
	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/core"
	"github.com/xanados/searchdestroy-core/pkg/daemon"
	"github.com/xanados/searchdestroy-core/pkg/ipcserver"
	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/must"
)

var rootCommand = &cobra.Command{
	Use:   "sdcored",
	Short: "sdcored runs the scanning daemon in the foreground",
	Run:   cmd.Mainify(runMain),
}

func loadConfiguration() (*config.Configuration, error) {
	// Allow local development overrides (engine binary paths, log level) to
	// be supplied via a .env file without touching the YAML configuration.
	// godotenv.Load is a no-op (returning an ignorable error) when no .env
	// file is present.
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigurationPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("unable to load configuration: %w", err)
	}
	return cfg, nil
}

func runMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 0 {
		return fmt.Errorf("unexpected arguments provided")
	}

	logWriter, err := daemon.OpenLog()
	var logger *logging.Logger
	if err != nil {
		logger = logging.NewLogger(logging.LevelInfo, os.Stderr)
		logger.Warnf("Unable to open daemon log, writing to standard error: %v", err)
	} else {
		defer must.Close(logWriter, logging.RootLogger)
		logger = logging.NewLogger(logging.LevelInfo, logWriter)
	}

	lock, err := daemon.AcquireLock(logger)
	if err != nil {
		return fmt.Errorf("unable to acquire daemon lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warnf("Unable to release daemon lock: %v", err)
		}
	}()

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	adapters := buildAdapters(cfg, logger)

	service, err := core.New(cfg, logger, adapters, terminalPrompter{})
	if err != nil {
		return fmt.Errorf("unable to construct scanning core: %w", err)
	}
	defer service.Shutdown()

	server, err := ipcserver.Listen(config.SocketPath(), service, logger)
	if err != nil {
		return fmt.Errorf("unable to create IPC listener: %w", err)
	}
	defer must.Close(server, logger)

	if len(cfg.Monitor.Paths) > 0 {
		if err := service.MonitorStart(); err != nil {
			logger.Warnf("Unable to start real-time monitoring: %v", err)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve()
	}()

	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)
	select {
	case sig := <-signalTermination:
		logger.Infof("Terminating in response to signal: %s", sig)
		return nil
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("premature server termination: %w", err)
		}
		return nil
	}
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		cmd.Fatal(err)
	}
}
