package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/linesink/config"
	"github.com/cyberinferno/linesink/lifecycle"
	"github.com/cyberinferno/linesink/linesplit"
	"github.com/cyberinferno/linesink/logger"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath   string
	listen       string
	partial      string
	drainTimeout time.Duration
	maxLine      int
	output       string
	format       string
	logLevel     string
	admin        string
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "linesink",
		Short: "linesink collects newline-delimited logs from many TCP clients",
		Long: `linesink listens on a TCP port, accepts any number of concurrent clients
and writes every newline-terminated line they send to a single ordered
output stream (stdout by default). SIGINT or SIGTERM drains open
connections for the configured grace period before exiting.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVarP(&f.listen, "listen", "l", config.DefaultListen, "TCP address to accept clients on")
	fs.StringVar(&f.partial, "partial", "discard", "undelimited tail on client close: discard or flush")
	fs.DurationVar(&f.drainTimeout, "drain-timeout", config.DefaultDrainTimeout, "grace period for open connections on shutdown")
	fs.IntVar(&f.maxLine, "max-line", linesplit.DefaultMaxLineBytes, "maximum record length in bytes")
	fs.StringVarP(&f.output, "output", "o", "", "write records to this file instead of stdout")
	fs.StringVarP(&f.format, "format", "f", "raw", "record format: raw, tagged, json or syslog")
	fs.StringVar(&f.logLevel, "log-level", "info", "diagnostic log level")
	fs.StringVar(&f.admin, "admin", "", "address for the /healthz and /stats HTTP endpoints")

	return cmd
}

// loadConfig reads the config file, if any, and applies explicitly set
// flags on top.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.Listen = f.listen
	}
	if changed("partial") {
		cfg.PartialPolicy = f.partial
	}
	if changed("drain-timeout") {
		cfg.DrainTimeout = f.drainTimeout
	}
	if changed("max-line") {
		cfg.MaxLineBytes = f.maxLine
	}
	if changed("output") {
		cfg.Outputs = []config.Output{{Type: config.OutputFile, Path: f.output, Format: f.format}}
	} else if changed("format") {
		cfg.Outputs = []config.Output{{Type: config.OutputStdout, Format: f.format}}
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("admin") {
		cfg.AdminAddr = f.admin
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := logger.New(logger.Options{
		Service: cfg.Log.Service,
		Level:   cfg.Log.Level,
		Dir:     cfg.Log.Dir,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	snk, err := lifecycle.BuildSink(ctx, cfg.Outputs, log)
	if err != nil {
		log.Error("failed to open outputs", logger.Err(err))
		return err
	}

	ctrl, err := lifecycle.New(cfg, snk, log)
	if err != nil {
		_ = snk.Close()
		return err
	}

	return ctrl.Run(ctx)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "linesink:", err)
		os.Exit(1)
	}
}
