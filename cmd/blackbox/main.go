package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/blackbox/internal/config"
	"github.com/zsiec/blackbox/internal/manifest"
)

var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// rootOptions carries the settings resolved before any subcommand runs.
type rootOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	v := config.New()

	cmd := &cobra.Command{
		Use:           "blackbox",
		Short:         "Synchronized multi-channel dashcam playback simulator",
		Long:          `blackbox plays multi-camera dashcam sessions on one master clock, keeping every channel within a bounded drift of the timeline and reporting GPS and accelerometer readings alongside. Sessions are described by YAML manifests whose cameras are simulated.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath != "" {
				v.SetConfigFile(opts.configPath)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", opts.configPath, err)
				}
			}
			cfg, err := config.Decode(v)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if os.Getenv("DEBUG") != "" {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			opts.cfg = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	cmd.AddCommand(newPlayCommand(opts))
	cmd.AddCommand(newSensorsCommand(opts))
	cmd.AddCommand(newInitCommand())
	return cmd
}

// loadManifest reads the manifest named by args, or builds the demo session
// of length demo when none is given.
func loadManifest(args []string, demo time.Duration) (*manifest.Manifest, error) {
	if len(args) == 0 {
		slog.Info("no manifest given, using demo session", "duration", demo)
		return manifest.Example(demo, time.Now()), nil
	}
	return manifest.Load(args[0])
}
