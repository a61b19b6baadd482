//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"cryptotrader/internal/config"

	"github.com/google/wire"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config, flags config.FeatureFlags) *AppBuilder {
	return NewAppBuilder(cfg, flags)
}

func buildAppWithWire(ctx context.Context, cfg *config.Config, flags config.FeatureFlags) (*App, error) {
	wire.Build(
		provideAppBuilder,
		wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
		provideAppFromBuilder,
	)
	return nil, nil
}
