// Package app 组装配置、流水线与 http 接口，负责进程生命周期
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/pipeline"
)

// Run 运行到流水线结束，返回进程退出码
//
//	0 正常结束或收到退出信号
//	1 配置或模型加载错误
//	2 视频流丢失或无法连接
//	3 连续失败超过阈值
func Run(bc *conf.Bootstrap) int {
	log, closeLog, err := SetupLog(bc)
	if err != nil {
		slog.Error("setup log", "err", err)
		return pipeline.ExitConfigError.Code()
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := run(ctx, bc, log)
	if res.Err != nil {
		log.Error("pipeline exited", "status", res.Status, "code", res.Status.Code(), "err", res.Err)
	} else {
		log.Info("pipeline exited", "status", res.Status, "code", res.Status.Code())
	}
	return res.Status.Code()
}

func run(ctx context.Context, bc *conf.Bootstrap, log *slog.Logger) pipeline.Result {
	app, cleanup, err := wireApp(bc, log)
	if err != nil {
		return pipeline.Result{Status: pipeline.StatusOf(err), Err: err}
	}
	defer cleanup()

	if app.AlertCore != nil {
		go app.AlertCore.StartCleanupWorker(ctx, bc.Alert.RetainDays)
	}

	var svr *http.Server
	if !bc.Server.HTTP.Disabled {
		svr, err = serve(bc.Server.HTTP.Port, app.Handler, log)
		if err != nil {
			app.Pipeline.Stop()
			return pipeline.Result{Status: pipeline.ExitConfigError, Err: err}
		}
	}

	res := app.Pipeline.Run(ctx)

	if svr != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := svr.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "err", err)
		}
	}
	return res
}

// serve 端口被占用时立即返回错误
func serve(port int, h http.Handler, log *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("listen http port[%d]: %w", port, err)
	}
	svr := http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	go func() {
		log.Info("http server listening", "addr", ln.Addr().String())
		if err := svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
		}
	}()
	return &svr, nil
}
