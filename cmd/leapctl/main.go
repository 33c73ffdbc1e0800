package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/secondlife/leap/internal/config"
	"github.com/secondlife/leap/internal/logging"
	"github.com/urfave/cli/v2"
)

func main() {
	logging.ConfigureRuntime()

	app := &cli.App{
		Name:  "leapctl",
		Usage: "LEAP puppetry client speaking length-prefixed LLSD over stdin/stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a TOML config file. Defaults apply when unset.",
			},
			&cli.StringFlag{
				Name:  "dump",
				Usage: "Append every frame read and written to this file.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [trace,debug,info,warn,error,off].",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve /metrics and /healthz on this address.",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := resolveConfig(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, os.Stdin, os.Stdout)
		},
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Manage leapctl config files",
				Subcommands: []*cli.Command{
					{
						Name:      "init",
						Usage:     "Write the default config template",
						ArgsUsage: "<path>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file."},
						},
						Action: func(c *cli.Context) error {
							path := c.Args().First()
							if path == "" {
								_, err := fmt.Fprint(os.Stdout, config.Template())
								return err
							}
							return config.WriteTemplate(path, c.Bool("force"))
						},
					},
					{
						Name:      "validate",
						Usage:     "Load and validate a config file",
						ArgsUsage: "<path>",
						Action: func(c *cli.Context) error {
							path := c.Args().First()
							if path == "" {
								return fmt.Errorf("config path required")
							}
							if _, err := config.Load(path); err != nil {
								return err
							}
							fmt.Fprintf(c.App.ErrWriter, "validated %s\n", path)
							return nil
						},
					},
				},
			},
		},
	}
	// stdout carries protocol frames
	app.Writer = os.Stderr
	app.ErrWriter = os.Stderr

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "leapctl: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig loads --config when set and applies flag overrides.
func resolveConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if c.IsSet("dump") {
		cfg.DumpPath = c.String("dump")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	return cfg, nil
}
