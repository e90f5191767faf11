// Command raw_debug prints raw HX711 counts for wiring checks.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/relabs-tech/hive_monitor/internal/app"
	"github.com/relabs-tech/hive_monitor/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &cli.App{
		Name:  "raw_debug",
		Usage: "print one raw load cell count per interval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "hive_config.txt",
				Usage:   "path to the KEY=VALUE config file",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "time between reads",
			},
		},
		Action: func(c *cli.Context) error {
			if err := config.InitGlobal(c.String("config")); err != nil {
				return err
			}
			return app.RunRawDebug(c.Context, config.Get(), os.Stdout, c.Duration("interval"))
		},
	}
	if err := a.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
