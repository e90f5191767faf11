package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/relabs-tech/hive_monitor/internal/config"
	"github.com/relabs-tech/hive_monitor/internal/scale"
)

// RunRawDebug prints one raw HX711 count per interval until ctx ends.
// Useful to check wiring and drift before calibrating.
func RunRawDebug(ctx context.Context, cfg *config.Config, out io.Writer, interval time.Duration) (err error) {
	cell, closeCell, err := OpenLoadCell(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeCell()) }()

	return printRaw(ctx, cell, out, clock.New(), interval, 0)
}

// printRaw reads src every interval; count > 0 stops after that many reads.
func printRaw(ctx context.Context, src scale.RawSampleSource, out io.Writer, clk clock.Clock, interval time.Duration, count int) error {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for n := 1; count <= 0 || n <= count; n++ {
		raw, err := src.ReadRaw(ctx)
		if err != nil {
			fmt.Fprintf(out, "%s #%d read error: %v\n", clk.Now().Format(time.TimeOnly), n, err)
		} else {
			fmt.Fprintf(out, "%s #%d raw=%.0f\n", clk.Now().Format(time.TimeOnly), n, raw)
		}
		if count > 0 && n == count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
