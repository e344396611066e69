package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/wire"
	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/alert"
	"github.com/gowvp/forensight/internal/core/analysis"
	"github.com/gowvp/forensight/internal/core/inference"
	"github.com/gowvp/forensight/internal/core/metrics"
	"github.com/gowvp/forensight/internal/core/pipeline"
	"github.com/gowvp/forensight/internal/core/source"
	"github.com/gowvp/forensight/internal/web/api"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(App), "*"),
	NewMetrics,
	NewSource, NewInference, NewAnalysis, NewSink, NewPipeline,
	api.NewLiveHub,
)

// App 组装完成的流水线与 http 接口
type App struct {
	Pipeline  *pipeline.Pipeline
	Handler   http.Handler
	AlertCore *alert.Core
}

// NewMetrics 流水线计数通过 expvar 暴露
func NewMetrics() *metrics.Expvar {
	return metrics.NewExpvar("forensight")
}

func NewSource(bc *conf.Bootstrap, log *slog.Logger) (*source.Stream, error) {
	return source.Open(bc.Source, log)
}

// NewInference 加载全部模型，清理函数释放模型
func NewInference(bc *conf.Bootstrap, log *slog.Logger, m *metrics.Expvar) (*inference.Stage, func(), error) {
	detectors, err := inference.Open(context.Background(), bc.Inference.ModelPaths, log)
	if err != nil {
		return nil, nil, err
	}
	stage, err := inference.NewStage(detectors, inference.Options{
		Budget:  bc.Inference.Budget.Duration(),
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		for _, d := range detectors {
			_ = d.Close()
		}
		return nil, nil, err
	}
	return stage, func() {
		if err := stage.Close(); err != nil {
			log.Warn("close detectors", "err", err)
		}
	}, nil
}

func NewAnalysis(bc *conf.Bootstrap, log *slog.Logger, m *metrics.Expvar) (*analysis.Stage, error) {
	rules, err := analysis.BuildRules(bc.Analysis)
	if err != nil {
		return nil, err
	}
	return analysis.NewStage(rules, analysis.Options{Metrics: m, Logger: log})
}

// NewSink 日志、数据库、websocket 三个出口，存储关闭时跳过数据库
func NewSink(log *slog.Logger, core *alert.Core, hub *api.LiveHub) pipeline.Sink {
	sinks := alert.Fanout{alert.LogSink{Logger: log}}
	if core != nil {
		sinks = append(sinks, *core)
	}
	return append(sinks, hub)
}

func NewPipeline(bc *conf.Bootstrap, src *source.Stream, inf *inference.Stage, an *analysis.Stage, sink pipeline.Sink, log *slog.Logger, m *metrics.Expvar) (*pipeline.Pipeline, error) {
	p := bc.Pipeline
	return pipeline.New(pipeline.Config{
		IngestCapacity:   p.IngestCapacity,
		QueueCapacity:    p.QueueCapacity,
		ReadTimeout:      p.ReadTimeout.Duration(),
		DequeueTimeout:   p.DequeueTimeout.Duration(),
		EmitTimeout:      p.EmitTimeout.Duration(),
		Grace:            p.Grace.Duration(),
		FailureThreshold: p.FailureThreshold,
	}, pipeline.Stages{
		Source:    src,
		Inference: inf,
		Analysis:  an,
		Sink:      sink,
	}, pipeline.Options{Logger: log, Metrics: m})
}
