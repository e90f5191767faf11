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
		Name:  "console_mqtt",
		Usage: "print hive records published on MQTT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "hive_config.txt",
				Usage:   "path to the KEY=VALUE config file",
			},
		},
		Action: func(c *cli.Context) error {
			log.Println("starting hive-monitor console (MQTT subscriber)")
			if err := config.InitGlobal(c.String("config")); err != nil {
				return err
			}
			return app.RunConsoleMQTT(c.Context, config.Get(), os.Stdout)
		},
	}
	if err := a.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
