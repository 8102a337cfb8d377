// Command doorcamd runs the door-camera pipeline: it loads configuration,
// starts the orchestrator (ring buffer, event bus, camera, analyzer,
// capture engine, stream server, optional display controller and debug
// API), and drains everything on SIGTERM/SIGINT. Flag parsing uses a cobra
// root command rather than hand-rolled flag parsing, per spec.md §6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"doorcam/internal/config"
	"doorcam/internal/events"
	"doorcam/internal/logging"
	"doorcam/internal/orchestrator"
)

// Exit codes per spec.md §6.
const (
	exitSuccess      = 0
	exitGenericError = 1
	exitConfigError  = 2
	exitInterrupted  = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		configPath     string
		debug          bool
		verbose        bool
		printConfig    bool
		validateConfig bool
		enableKeyboard bool
	)

	code := exitSuccess
	cmd := &cobra.Command{
		Use:           "doorcamd",
		Short:         "Door-camera pipeline: capture, motion detection and MJPEG streaming",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exit, err := execute(cmd, configPath, debug, verbose, printConfig, validateConfig, enableKeyboard)
			code = exit
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level structured logging")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose structured logging")
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the fully-resolved configuration and exit")
	cmd.Flags().BoolVar(&validateConfig, "validate-config", false, "validate configuration without starting the pipeline")
	cmd.Flags().BoolVar(&enableKeyboard, "enable-keyboard", false, "enable optional keyboard debug input (out of core scope)")
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "doorcamd:", err)
		if code == exitSuccess {
			code = exitGenericError
		}
		return code
	}
	return code
}

// execute runs the resolved subcommand body. It returns both the process
// exit code and an error (for cobra's own reporting), since a config error
// and a generic runtime error map to different codes.
func execute(cmd *cobra.Command, configPath string, debug, verbose, printConfig, validateConfig, enableKeyboard bool) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitConfigError, err
	}

	if validateConfig {
		fmt.Fprintln(cmd.OutOrStdout(), "config: valid")
		return exitSuccess, nil
	}

	if printConfig {
		dump, err := cfg.Dump()
		if err != nil {
			return exitGenericError, err
		}
		fmt.Fprint(cmd.OutOrStdout(), dump)
		return exitSuccess, nil
	}

	if debug || verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return exitGenericError, err
	}
	defer logger.Sync()
	logging.ReplaceGlobals(logger)

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		return exitConfigError, err
	}

	if enableKeyboard {
		logger.Warn("keyboard debug input requested but is out of core scope; ignoring --enable-keyboard")
	}

	logger.Info("doorcamd: stream server listening", logging.String("url", listenerURL(fmt.Sprintf("%s:%d", cfg.Stream.IP, cfg.Stream.Port), false)))
	if cfg.Debug.Enabled {
		logger.Info("doorcamd: debug API listening", logging.String("url", listenerURL(cfg.Debug.Listen, false)))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	interrupted := make(chan struct{})
	go func() {
		<-sigCh
		close(interrupted)
		// Signal handlers only publish events (spec.md §9): the
		// orchestrator's own bus subscriber (registered before Run starts
		// any component) is what actually cancels its internal run
		// context.
		orch.Bus().Publish(events.Event{Kind: events.KindShutdownRequested, Timestamp: time.Now()})
	}()
	defer signal.Stop(sigCh)

	runErr := orch.Run(context.Background())

	select {
	case <-interrupted:
		return exitInterrupted, runErr
	default:
	}

	if runErr != nil {
		return exitGenericError, runErr
	}
	return exitSuccess, nil
}
