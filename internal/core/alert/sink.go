package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gowvp/forensight/internal/core/vision"
)

// Sink 告警出口
type Sink interface {
	Emit(ctx context.Context, ev vision.AlertEvent) error
}

var (
	_ Sink = Core{}
	_ Sink = LogSink{}
	_ Sink = Fanout{}
)

// LogSink 输出到日志，critical 级别以 ALARM TRIGGERED 记录
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, ev vision.AlertEvent) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	args := []any{
		"id", ev.ID, "kind", ev.Kind, "rule", ev.Rule, "severity", ev.Severity.String(),
		"source", ev.SourceID, "seq", ev.FrameSeq, "capture_time", ev.CaptureTime,
	}
	if ev.Trigger != nil {
		args = append(args, "label", ev.Trigger.Label, "confidence", ev.Trigger.Confidence, "box", ev.Trigger.Box)
	}
	switch ev.Severity {
	case vision.SeverityCritical:
		log.ErrorContext(ctx, "ALARM TRIGGERED", args...)
	case vision.SeverityWarning:
		log.WarnContext(ctx, "alert", args...)
	default:
		log.InfoContext(ctx, "alert", args...)
	}
	return nil
}

// Fanout 依次投递到所有出口，单个失败不影响其他出口
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, ev vision.AlertEvent) error {
	var errs []error
	for i, s := range f {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("sink[%d] %T: %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}
