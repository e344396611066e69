package api

import (
	"expvar"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gowvp/forensight/internal/core/pipeline"
	"github.com/gowvp/forensight/internal/core/source"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

var startRuntime = time.Now()

func setupRouter(r *gin.Engine, uc *Usecase) {
	r.Use(
		// 格式化输出到控制台，然后记录到日志
		// 此处不做 recover，底层 http.server 也会 recover，但不会输出方便查看的格式
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		web.Metrics(),
		web.Logger(
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/alerts/ws"),
			web.IgnorePrefix("/health"),
		),
	)

	r.Use(cors.New(cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Accept", "Content-Length", "Content-Type", "Accept-Language",
			"Origin", "Authorization", "Referer", "User-Agent",
			"Accept-Encoding", "Cache-Control", "X-Requested-With", "X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc: func(_ string) bool {
			return true
		},
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"msg": "来到了无人的荒漠"})
	})
	r.GET("/app/metrics/api", web.WrapH(uc.getMetricsAPI))
	registerRoutes(r, uc)
}

// registerRoutes 业务路由，不含全局中间件
func registerRoutes(r gin.IRouter, uc *Usecase) {
	r.GET("/health", web.WrapH(uc.getHealth))
	r.GET("/app/stats", gzip.Gzip(gzip.DefaultCompression), web.WrapH(uc.getStats))

	RegisterAlert(r, uc.AlertAPI)
	RegisterPipeline(r, uc.PipelineAPI)
}

type getHealthOutput struct {
	Version string    `json:"version"`
	StartAt time.Time `json:"start_at"`
	Running bool      `json:"running"`
}

func (uc *Usecase) getHealth(_ *gin.Context, _ *struct{}) (getHealthOutput, error) {
	return getHealthOutput{
		Version: uc.Conf.BuildVersion,
		StartAt: startRuntime,
		Running: uc.Pipeline.Running(),
	}, nil
}

type hostStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	MemUsed    uint64  `json:"mem_used"`
	MemTotal   uint64  `json:"mem_total"`
}

type getStatsOutput struct {
	Pipeline    pipeline.Stats      `json:"pipeline"`
	Source      *source.StreamStats `json:"source,omitempty"` // 含 ffmpeg 帧数与丢帧数
	Rules       []string            `json:"rules"`
	Counters    map[string]int64    `json:"counters"`
	Host        hostStats           `json:"host"`
	LiveClients int                 `json:"live_clients"`
	LiveDropped uint64              `json:"live_dropped"`
	Goroutines  int                 `json:"goroutines"`
	Uptime      string              `json:"uptime"`
}

// getStats 流水线计数与主机负载
func (uc *Usecase) getStats(c *gin.Context, _ *struct{}) (*getStatsOutput, error) {
	ctx := c.Request.Context()
	var host hostStats
	if v, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(v) > 0 {
		host.CPUPercent = v[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		host.MemPercent = vm.UsedPercent
		host.MemUsed = vm.Used
		host.MemTotal = vm.Total
	}

	out := getStatsOutput{
		Pipeline:   uc.Pipeline.Stats(),
		Host:       host,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(startRuntime).Truncate(time.Second).String(),
	}
	if uc.Source != nil {
		st := uc.Source.Stats()
		out.Source = &st
	}
	if uc.Rules != nil {
		out.Rules = uc.Rules.Rules()
	}
	if uc.Metrics != nil {
		out.Counters = uc.Metrics.Snapshot()
	}
	if uc.Hub != nil {
		out.LiveClients = uc.Hub.Clients()
		out.LiveDropped = uc.Hub.Dropped()
	}
	return &out, nil
}

type getMetricsAPIOutput struct {
	RealTimeRequests int64  `json:"real_time_requests"` // 实时请求数
	TotalRequests    int64  `json:"total_requests"`     // 总请求数
	TotalResponses   int64  `json:"total_responses"`    // 总响应数
	RequestTop10     []KV   `json:"request_top10"`      // 请求TOP10
	StatusCodeTop10  []KV   `json:"status_code_top10"`  // 状态码TOP10
	NumGC            uint32 `json:"num_gc"`             // gc 次数
	SysAlloc         uint64 `json:"sys_alloc"`          // 内存占用
	StartAt          string `json:"start_at"`           // 运行时间
}

// getMetricsAPI 汇总 web.Metrics 中间件写入 expvar 的请求统计
func (uc *Usecase) getMetricsAPI(_ *gin.Context, _ *struct{}) (*getMetricsAPIOutput, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return &getMetricsAPIOutput{
		RealTimeRequests: expvarInt("request"),
		TotalRequests:    expvarInt("requests"),
		TotalResponses:   expvarInt("responses"),
		RequestTop10:     sortExpvarMap(expvarMap("requestURLs"), 10),
		StatusCodeTop10:  sortExpvarMap(expvarMap("statusCodes"), 10),
		NumGC:            stats.NumGC,
		SysAlloc:         stats.Sys,
		StartAt:          startRuntime.Format(time.DateTime),
	}, nil
}

func expvarInt(name string) int64 {
	if v, ok := expvar.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func expvarMap(name string) *expvar.Map {
	v, _ := expvar.Get(name).(*expvar.Map)
	return v
}

type KV struct {
	Key   string
	Value int64
}

func sortExpvarMap(data *expvar.Map, top int) []KV {
	kvs := make([]KV, 0, 8)
	if data == nil {
		return kvs
	}
	data.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			kvs = append(kvs, KV{Key: kv.Key, Value: v.Value()})
		}
	})
	sort.Slice(kvs, func(i, j int) bool {
		return kvs[i].Value > kvs[j].Value
	})
	if len(kvs) > top {
		kvs = kvs[:top]
	}
	return kvs
}
