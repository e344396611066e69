package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/forensight/internal/core/analysis"
	"github.com/gowvp/forensight/internal/core/pipeline"
	"github.com/gowvp/forensight/internal/core/source"
	"github.com/ixugo/goddd/pkg/web"
)

// PipelineController 流水线运行控制
type PipelineController interface {
	Stats() pipeline.Stats
	Running() bool
	Stop()
}

// SourceStatser 来源与拉流统计
type SourceStatser interface {
	Stats() source.StreamStats
}

// RuleLister 已注册的规则名，按评估顺序
type RuleLister interface {
	Rules() []string
}

var (
	_ PipelineController = (*pipeline.Pipeline)(nil)
	_ SourceStatser      = (*source.Stream)(nil)
	_ RuleLister         = (*analysis.Stage)(nil)
)

// PipelineAPI 流水线控制接口
type PipelineAPI struct {
	pipeline PipelineController
}

func NewPipelineAPI(p PipelineController) PipelineAPI {
	return PipelineAPI{pipeline: p}
}

func RegisterPipeline(g gin.IRouter, api PipelineAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/pipeline", handler...)
	group.GET("/stats", web.WrapH(api.getStats))
	group.POST("/stop", api.stop)
}

func (a PipelineAPI) getStats(_ *gin.Context, _ *struct{}) (pipeline.Stats, error) {
	return a.pipeline.Stats(), nil
}

// stop 阻塞到流水线排空退出，请求体为空
func (a PipelineAPI) stop(c *gin.Context) {
	a.pipeline.Stop()
	c.JSON(http.StatusOK, a.pipeline.Stats())
}
