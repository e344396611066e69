package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/analysis"
	"github.com/gowvp/forensight/internal/core/metrics"
	"github.com/gowvp/forensight/internal/core/pipeline"
	"github.com/gowvp/forensight/internal/core/source"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	wire.Bind(new(PipelineController), new(*pipeline.Pipeline)),
	wire.Bind(new(SourceStatser), new(*source.Stream)),
	wire.Bind(new(RuleLister), new(*analysis.Stage)),
	NewHTTPHandler,
	NewAlertCore, NewAlertAPI,
	NewPipelineAPI,
)

type Usecase struct {
	Conf        *conf.Bootstrap
	Pipeline    PipelineController
	Source      SourceStatser
	Rules       RuleLister
	Metrics     *metrics.Expvar
	Hub         *LiveHub
	AlertAPI    AlertAPI
	PipelineAPI PipelineAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	if !uc.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	setupRouter(g, uc)
	return g
}
