package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gowvp/forensight/internal/core/metrics"
	"github.com/gowvp/forensight/internal/core/vision"
)

// Options 分析阶段参数
type Options struct {
	Metrics metrics.Metrics
	Logger  *slog.Logger
}

// Stage 按注册顺序评估全部规则，每条命中的规则产生一个告警
type Stage struct {
	rules   []Rule
	metrics metrics.Metrics
	log     *slog.Logger
}

// NewStage 规则名不能重复
func NewStage(rules []Rule, opts Options) (*Stage, error) {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, ok := seen[r.Name()]; ok {
			return nil, fmt.Errorf("%w: duplicate rule name[%s]", vision.ErrConfiguration, r.Name())
		}
		seen[r.Name()] = struct{}{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Stage{
		rules:   rules,
		metrics: opts.Metrics,
		log:     opts.Logger.With("stage", "analysis"),
	}, nil
}

// Rules 规则名，按注册顺序
func (s *Stage) Rules() []string {
	out := make([]string, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Name()
	}
	return out
}

// Process 单条规则出错不影响其他规则，返回已产生的告警及 ErrAnalysis
func (s *Stage) Process(ctx context.Context, f *vision.Frame) ([]vision.AlertEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !f.Annotated() {
		return nil, fmt.Errorf("%w: frame[%d] has no detections", vision.ErrAnalysis, f.Seq)
	}
	dets := f.Detections()

	var (
		events []vision.AlertEvent
		errs   []error
	)
	for _, r := range s.rules {
		v, err := r.Evaluate(dets)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !v.Matched {
			continue
		}
		ev := vision.AlertEvent{
			ID:          uuid.NewString(),
			Kind:        r.Kind(),
			Rule:        r.Name(),
			Severity:    r.Severity(),
			SourceID:    f.SourceID,
			FrameSeq:    f.Seq,
			CaptureTime: f.CaptureTime,
		}
		if v.Trigger != nil {
			trigger := v.Trigger.Clone()
			ev.Trigger = &trigger
		}
		events = append(events, ev)
	}
	s.metrics.Add("analysis.frames", 1)
	s.metrics.Add("analysis.alerts", int64(len(events)))

	if len(errs) > 0 {
		s.metrics.Add("analysis.errors", 1)
		return events, fmt.Errorf("%w: frame[%d]: %w", vision.ErrAnalysis, f.Seq, errors.Join(errs...))
	}
	return events, nil
}
