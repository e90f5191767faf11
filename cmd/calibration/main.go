// Command calibration runs the guided tare and calibration and prints the
// preset lines for the config file.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/relabs-tech/hive_monitor/internal/app"
	"github.com/relabs-tech/hive_monitor/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &cli.App{
		Name:  "calibration",
		Usage: "tare and calibrate the load cell against a known weight",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "hive_config.txt",
				Usage:   "path to the KEY=VALUE config file",
			},
			&cli.Float64Flag{
				Name:  "known-grams",
				Usage: "override CALIBRATION_KNOWN_WEIGHT_GRAMS",
			},
		},
		Action: func(c *cli.Context) error {
			if err := config.InitGlobal(c.String("config")); err != nil {
				return err
			}
			cfg := *config.Get()
			if c.IsSet("known-grams") {
				cfg.CalibrationKnownGrams = c.Float64("known-grams")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return app.RunCalibration(c.Context, &cfg, os.Stdin, os.Stdout)
		},
	}
	if err := a.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
