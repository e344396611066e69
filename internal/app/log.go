package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/ixugo/goddd/pkg/system"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// SetupLog 控制台输出文本，日志目录按周期切割写入 json
func SetupLog(bc *conf.Bootstrap) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(bc.Log.Level)); err != nil {
		return nil, nil, fmt.Errorf("%w: log.level[%s]", vision.ErrConfiguration, bc.Log.Level)
	}
	if bc.Debug {
		level = slog.LevelDebug
	}
	opts := slog.HandlerOptions{Level: level, AddSource: bc.Debug}
	console := slog.NewTextHandler(os.Stdout, &opts)
	if bc.Log.Dir == "" {
		return slog.New(console), func() {}, nil
	}

	dir := bc.Log.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: create log dir: %w", vision.ErrConfiguration, err)
	}
	w, err := rotatelogs.New(
		filepath.Join(dir, "%Y%m%d%H%M.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, "current.log")),
		rotatelogs.WithMaxAge(orDefault(bc.Log.MaxAge.Duration(), 7*24*time.Hour)),
		rotatelogs.WithRotationTime(orDefault(bc.Log.RotationTime.Duration(), 12*time.Hour)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: rotate logs: %w", vision.ErrConfiguration, err)
	}
	file := slog.NewJSONHandler(w, &opts)
	return slog.New(teeHandler{console, file}), func() { _ = w.Close() }, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// teeHandler 同一条记录写入多个 handler
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
