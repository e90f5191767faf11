// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command monitor runs the hive sensor fusion loop.
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
		Name:  "monitor",
		Usage: "poll the hive scale and sensors and publish one record per cycle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "hive_config.txt",
				Usage:   "path to the KEY=VALUE config file",
			},
		},
		Action: func(c *cli.Context) error {
			if err := config.InitGlobal(c.String("config")); err != nil {
				return err
			}
			return app.RunMonitor(c.Context, config.Get(), os.Stdin, os.Stdout)
		},
	}
	if err := a.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
