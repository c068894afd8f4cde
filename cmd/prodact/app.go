package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/config"
	"github.com/randalmurphal/prodact/pkg/prodact/prodactfx"
	"github.com/randalmurphal/prodact/pkg/prodact/setup"
)

const stopTimeout = 10 * time.Second

func newApp() *cli.App {
	return &cli.App{
		Name:  "prodact",
		Usage: "Log analytics events and user properties",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the sink configuration file (overrides PRODACT_CONFIG)",
			},
		},
		Commands: []*cli.Command{
			eventCmd(),
			setCmd(),
			addCmd(),
			unsetCmd(),
			clearCmd(),
		},
	}
}

func eventCmd() *cli.Command {
	return &cli.Command{
		Name:      "event",
		Usage:     "Log an event",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "prop",
				Aliases: []string{"p"},
				Usage:   "Event property as key=value (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "out-of-session",
				Usage: "Exclude the event from session metrics",
			},
		},
		Action: withAnalytics(func(c *cli.Context, a *prodact.Analytics) error {
			name, err := arg(c, 0, "NAME")
			if err != nil {
				return err
			}

			props, err := parseProperties(c.StringSlice("prop"))
			if err != nil {
				return err
			}
			if len(props) == 0 && !c.Bool("out-of-session") {
				a.LogEvent(c.Context, prodact.NewEventKey[prodact.Empty](name))
				return nil
			}
			return prodact.LogEventWith(c.Context, a, prodact.NewEventKey[map[string]any](name), props,
				prodact.WithOutOfSession(c.Bool("out-of-session")))
		}),
	}
}

func setCmd() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Set a user property",
		ArgsUsage: "KEY VALUE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Only write when the property is undefined",
			},
		},
		Action: withAnalytics(func(c *cli.Context, a *prodact.Analytics) error {
			key, err := arg(c, 0, "KEY")
			if err != nil {
				return err
			}
			raw, err := arg(c, 1, "VALUE")
			if err != nil {
				return err
			}

			mutability := prodact.Overwritable
			if c.Bool("once") {
				mutability = prodact.WriteOnce
			}
			setValue(c.Context, a, key, mutability, parseValue(raw))
			return nil
		}),
	}
}

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Increment a numeric user property (negative values decrement)",
		ArgsUsage: "KEY DELTA",
		Action: withAnalytics(func(c *cli.Context, a *prodact.Analytics) error {
			key, err := arg(c, 0, "KEY")
			if err != nil {
				return err
			}
			raw, err := arg(c, 1, "DELTA")
			if err != nil {
				return err
			}

			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				prodact.Add(c.Context, a, prodact.NewUserPropertyKey[int64](key), i)
				return nil
			}
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("delta %q is not a number", raw)
			}
			prodact.Add(c.Context, a, prodact.NewUserPropertyKey[float64](key), f)
			return nil
		}),
	}
}

func unsetCmd() *cli.Command {
	return &cli.Command{
		Name:      "unset",
		Usage:     "Remove a user property",
		ArgsUsage: "KEY",
		Action: withAnalytics(func(c *cli.Context, a *prodact.Analytics) error {
			key, err := arg(c, 0, "KEY")
			if err != nil {
				return err
			}
			prodact.Unset(c.Context, a, prodact.NewUserPropertyKey[string](key))
			return nil
		}),
	}
}

func clearCmd() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove all user properties",
		Action: withAnalytics(func(c *cli.Context, a *prodact.Analytics) error {
			a.ClearUserProperties(c.Context)
			return nil
		}),
	}
}

// withAnalytics starts the fx application around fn. Stopping the
// application flushes and closes every sink.
func withAnalytics(fn func(c *cli.Context, a *prodact.Analytics) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		settings, err := config.LoadSettings()
		if err != nil {
			return err
		}
		if path := c.String("config"); path != "" {
			settings.ConfigFile = path
		}

		cfg, err := settings.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: settings.Level()}))

		var a *prodact.Analytics
		app := fx.New(
			fx.NopLogger,
			fx.Supply(withDefaultSink(cfg), logger),
			prodactfx.Module,
			fx.Populate(&a),
		)
		if err := app.Err(); err != nil {
			return err
		}
		if err := app.Start(c.Context); err != nil {
			return err
		}

		runErr := fn(c, a)

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return errors.Join(runErr, app.Stop(ctx))
	}
}

// withDefaultSink adds a log sink when cfg lists none.
func withDefaultSink(cfg config.Config) config.Config {
	if len(cfg.Slice(config.KeySinks)) > 0 {
		return cfg
	}
	raw := maps.Clone(cfg.Raw())
	raw[config.KeySinks] = []any{map[string]any{config.KeyType: setup.SinkLog}}
	return config.New(raw)
}

func arg(c *cli.Context, i int, name string) (string, error) {
	if c.NArg() <= i {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return c.Args().Get(i), nil
}
