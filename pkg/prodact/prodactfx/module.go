// Package prodactfx wires analytics into an fx application.
//
// The module needs a config.Config in the graph and uses a *slog.Logger
// when one is provided. It provides *prodact.Analytics, configures every
// sink on start, and flushes and closes them on stop.
package prodactfx

import (
	"context"
	"errors"
	"log/slog"

	"go.uber.org/fx"

	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/config"
	"github.com/randalmurphal/prodact/pkg/prodact/setup"
)

// Module provides the built setup.Result and its *prodact.Analytics. It needs
// a config.Config in the graph; a *slog.Logger and extra setup options are
// optional.
var Module = fx.Module("prodact",
	fx.Provide(
		NewResult,
		NewAnalytics,
	),
)

// Params are the dependencies of NewResult.
type Params struct {
	fx.In

	Config  config.Config
	Logger  *slog.Logger   `optional:"true"`
	Options []setup.Option `group:"prodact.options"`
}

// NewResult builds the sinks and registers their lifecycle.
func NewResult(lc fx.Lifecycle, p Params) (*setup.Result, error) {
	opts := append([]setup.Option{setup.WithLogger(p.Logger)}, p.Options...)

	res, err := setup.Build(context.Background(), p.Config, opts...)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			res.Analytics.ConfigureAll(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return errors.Join(res.Flush(ctx), res.Close())
		},
	})
	return res, nil
}

// NewAnalytics exposes the Analytics of a built Result.
func NewAnalytics(res *setup.Result) *prodact.Analytics {
	return res.Analytics
}

// AsOption contributes a setup.Option to the module.
//
//	fx.Provide(prodactfx.AsOption(func() setup.Option {
//	    return setup.WithHandlers(myBackend)
//	}))
func AsOption(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"prodact.options"`))
}
