package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/blackbox/internal/manifest"
	"github.com/zsiec/blackbox/internal/playback"
	"github.com/zsiec/blackbox/internal/sensor"
)

func newSensorsCommand(root *rootOptions) *cobra.Command {
	var (
		step time.Duration
		demo time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sensors [manifest]",
		Short: "Print the GPS and accelerometer timelines of a session",
		Long: `Sensors samples the GPS and accelerometer series of a session at a fixed step,
interpolating GPS between fixes, and lists the impact events above the
configured threshold. No video is decoded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(args, demo)
			if err != nil {
				return err
			}
			return printSensors(cmd.OutOrStdout(), m, step, root.cfg.ImpactThreshold)
		},
	}
	cmd.Flags().DurationVar(&step, "step", time.Second, "sampling step")
	cmd.Flags().DurationVar(&demo, "demo", 20*time.Second, "length of the generated demo session")
	return cmd
}

func printSensors(out io.Writer, m *manifest.Manifest, step time.Duration, impactThreshold float64) error {
	if step <= 0 {
		return fmt.Errorf("step must be positive, got %v", step)
	}
	file, err := m.VideoFile()
	if err != nil {
		return err
	}

	gps := sensor.NewGPSTimeline()
	gps.Load(file.Timestamp, file.Metadata.GPS)
	accel := sensor.NewAccelTimeline()
	accel.Load(file.Timestamp, file.Metadata.Acceleration)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLAT\tLON\tSPEED\tACCEL")
	for t := time.Duration(0); t <= file.Duration; t += step {
		lat, lon, speed, g := "-", "-", "-", "-"
		if p, ok := gps.ValueAt(t); ok {
			lat = fmt.Sprintf("%.5f", p.Latitude)
			lon = fmt.Sprintf("%.5f", p.Longitude)
			if !p.Valid() {
				lat, lon = lat+"!", lon+"!"
			}
			if p.Speed != nil {
				speed = fmt.Sprintf("%.1f", *p.Speed)
			}
		}
		if a, ok := accel.ValueAt(t); ok {
			g = fmt.Sprintf("%.2f", a.Magnitude())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", playback.FormatTime(t), lat, lon, speed, g)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	impacts := accel.Impacts(impactThreshold)
	fmt.Fprintf(out, "\n%d impact(s) above %.1fg\n", len(impacts), impactThreshold)
	for _, im := range impacts {
		s := im.Sample
		fmt.Fprintf(out, "  %s  %.2fg  (x=%.2f y=%.2f z=%.2f)\n", playback.FormatTime(im.Elapsed), im.Magnitude, s.X, s.Y, s.Z)
	}
	return nil
}
