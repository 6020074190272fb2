package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/blackbox/internal/manifest"
)

func newInitCommand() *cobra.Command {
	var (
		duration time.Duration
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a demo session manifest",
		Long:  `Init writes a four-camera demo manifest that can be edited and passed to play or sensors.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "session.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			return writeExample(path, duration, force)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", time.Minute, "session length")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func writeExample(path string, d time.Duration, force bool) error {
	data, err := manifest.Example(d, time.Now()).Marshal()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !force {
		flag |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("wrote manifest", "path", path, "duration", d)
	return nil
}
