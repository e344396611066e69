//go:build wireinject

package app

import (
	"log/slog"

	"github.com/google/wire"
	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/data"
	"github.com/gowvp/forensight/internal/web/api"
)

func wireApp(bc *conf.Bootstrap, log *slog.Logger) (*App, func(), error) {
	panic(wire.Build(data.ProviderSet, api.ProviderSet, ProviderSet))
}
