package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/blackbox/internal/metrics"
	"github.com/zsiec/blackbox/internal/playback"
	"github.com/zsiec/blackbox/internal/snapshot"
	"github.com/zsiec/blackbox/media"
)

type playOptions struct {
	speed          float64
	start          time.Duration
	limit          time.Duration
	demo           time.Duration
	statusInterval time.Duration
	snapshotPath   string
	snapshotEvery  time.Duration
}

func newPlayCommand(root *rootOptions) *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play [manifest]",
		Short: "Play a session and report its synchronized state",
		Long: `Play loads every channel of a session, starts the master clock and prints a status
line at a fixed interval until playback reaches the end, the --for limit expires
or the process is interrupted.

Without a manifest a demo session is generated.`,
		Example: `  blackbox play session.yaml --speed 2
  blackbox play --demo 30s --snapshots run.bin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), root, opts, args, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&opts.speed, "speed", 1, "playback speed multiplier")
	flags.DurationVar(&opts.start, "start", 0, "seek to this position before playing")
	flags.DurationVar(&opts.limit, "for", 0, "stop after this much wall time (0 plays to the end)")
	flags.DurationVar(&opts.demo, "demo", 20*time.Second, "length of the generated demo session")
	flags.DurationVar(&opts.statusInterval, "status-interval", time.Second, "how often to print a status line")
	flags.StringVar(&opts.snapshotPath, "snapshots", "", "append framed binary snapshots to this file")
	flags.DurationVar(&opts.snapshotEvery, "snapshot-interval", 100*time.Millisecond, "how often to record a snapshot")
	return cmd
}

func runPlay(ctx context.Context, root *rootOptions, opts *playOptions, args []string, out io.Writer) error {
	cfg := root.cfg

	m, err := loadManifest(args, opts.demo)
	if err != nil {
		return err
	}
	file, err := m.VideoFile()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctrl := playback.New(playback.Options{
		Config:  cfg.Playback,
		Opener:  m.Opener(),
		Logger:  slog.Default(),
		Metrics: metrics.New(reg),
	})
	defer ctrl.Close()

	if err := ctrl.SetPlaybackSpeed(opts.speed); err != nil {
		return err
	}
	if err := ctrl.LoadVideoFile(ctx, file); err != nil {
		return err
	}
	if opts.start > 0 {
		ctrl.SeekToTime(opts.start)
	}

	if opts.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.limit)
		defer cancel()
	}
	runCtx, finish := context.WithCancel(ctx)
	defer finish()

	states := ctrl.SubscribeState()
	defer states.Close()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case s, ok := <-states.C():
				if !ok {
					return nil
				}
				slog.Debug("playback state", "state", s, "time", ctrl.CurrentTimeString())
				if s == media.StateStopped {
					finish()
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		return printStatus(gctx, ctrl, opts.statusInterval, out)
	})

	if opts.snapshotPath != "" {
		g.Go(func() error {
			return recordSnapshots(gctx, ctrl, opts.snapshotPath, opts.snapshotEvery)
		})
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	ctrl.Play()

	if err := g.Wait(); err != nil {
		return err
	}
	ctrl.Pause()
	printSummary(ctrl, root.cfg.ImpactThreshold, out)
	return nil
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// printStatus writes one line per interval until ctx is done.
func printStatus(ctx context.Context, ctrl *playback.Controller, every time.Duration, out io.Writer) error {
	if every <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprintln(out, statusLine(ctrl.Snapshot()))
		}
	}
}

func statusLine(s playback.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %-7s", playback.FormatTime(s.CurrentTime),
		playback.FormatRemaining(s.Duration-s.CurrentTime), playback.FormatSpeed(s.Speed), s.State)
	for _, ch := range s.Channels {
		mark := "ok"
		if !ch.Presented() {
			mark = ch.Reason.String()
		}
		fmt.Fprintf(&b, " %s=%s(%+dms,%d/%d)", ch.Position, mark, ch.Drift.Milliseconds(),
			ch.Buffer.Current, ch.Buffer.Capacity)
	}
	if g := s.Sensors.GPS; g != nil {
		fmt.Fprintf(&b, " gps=%.5f,%.5f", g.Latitude, g.Longitude)
		if g.Speed != nil {
			fmt.Fprintf(&b, "@%.0fkm/h", *g.Speed)
		}
	}
	if a := s.Sensors.Acceleration; a != nil {
		fmt.Fprintf(&b, " accel=%.2fg", a.Magnitude())
	}
	return b.String()
}

// recordSnapshots appends a framed snapshot to path every interval.
func recordSnapshots(ctx context.Context, ctrl *playback.Controller, path string, every time.Duration) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	defer func() {
		if err := w.Flush(); err != nil {
			slog.Warn("flush snapshots failed", "error", err)
		}
		f.Close()
	}()

	if every <= 0 {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			slog.Info("snapshots recorded", "path", path, "count", n)
			return nil
		case <-ticker.C:
			if err := snapshot.Write(w, ctrl.Snapshot()); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			n++
		}
	}
}

func printSummary(ctrl *playback.Controller, impactThreshold float64, out io.Writer) {
	fmt.Fprintf(out, "\nsession %s stopped at %s of %s\n", ctrl.Session(),
		ctrl.CurrentTimeString(), playback.FormatTime(ctrl.Duration()))

	chStats := ctrl.ChannelStats()
	drifts := ctrl.DriftStats()
	for _, pos := range media.AllPositions {
		cs, ok := chStats[pos]
		if !ok {
			continue
		}
		ds := drifts[pos]
		fmt.Fprintf(out, "  %-8s accepted=%d rejected=%d max_drift=%v decoded=%d underruns=%d seeks=%d errors=%d\n",
			pos, ds.Accepted, ds.Rejected, ds.MaxDrift, cs.Decoded, cs.Underruns, cs.Seeks, cs.DecodeErrors)
	}
	if route := ctrl.Route(); len(route) > 0 {
		last := route[len(route)-1]
		fmt.Fprintf(out, "  route: %d fixes, last %.5f,%.5f\n", len(route), last.Latitude, last.Longitude)
	}
	for _, im := range ctrl.Impacts(impactThreshold) {
		fmt.Fprintf(out, "  impact at %s: %.2fg\n", playback.FormatTime(im.Elapsed), im.Magnitude)
	}
}
