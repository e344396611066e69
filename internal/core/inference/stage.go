package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gowvp/forensight/internal/core/metrics"
	"github.com/gowvp/forensight/internal/core/vision"
)

// Options 推理阶段参数
type Options struct {
	Budget  time.Duration // 单帧推理时间上限
	Metrics metrics.Metrics
	Logger  *slog.Logger
}

// Stage 推理阶段，独占检测器
type Stage struct {
	detectors []Detector
	budget    time.Duration
	metrics   metrics.Metrics
	log       *slog.Logger

	// 超时的调用可能仍在运行，新调用需等待其结束
	mu sync.Mutex
}

type result struct {
	dets []vision.Detection
	err  error
}

// NewStage 至少需要一个检测器
func NewStage(detectors []Detector, opts Options) (*Stage, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("%w: no detector", vision.ErrModelLoad)
	}
	if opts.Budget <= 0 {
		return nil, fmt.Errorf("%w: inference budget must be positive", vision.ErrConfiguration)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Stage{
		detectors: detectors,
		budget:    opts.Budget,
		metrics:   opts.Metrics,
		log:       opts.Logger.With("stage", "inference"),
	}, nil
}

// Budget 单帧最长耗时
func (s *Stage) Budget() time.Duration {
	return s.budget
}

// Process 返回附带检测结果的新帧，入参帧不变
// 超出预算返回 ErrBudgetExceeded，检测失败返回 ErrInference，调用方丢弃该帧
func (s *Stage) Process(ctx context.Context, f *vision.Frame) (*vision.Frame, error) {
	if f.Annotated() {
		return nil, fmt.Errorf("%w: %w", vision.ErrInference, vision.ErrDetectionsSealed)
	}
	// 上一次超时的调用仍未返回，直接跳过该帧
	if !s.mu.TryLock() {
		s.metrics.Add("inference.skipped", 1)
		return nil, fmt.Errorf("%w: seq[%d] detector busy", vision.ErrBudgetExceeded, f.Seq)
	}
	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer s.mu.Unlock()
		dets, err := s.detect(dctx, f)
		ch <- result{dets: dets, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-dctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.metrics.Add("inference.skipped", 1)
		return nil, fmt.Errorf("%w: seq[%d] budget[%s]", vision.ErrBudgetExceeded, f.Seq, s.budget)
	}
	s.metrics.Observe("inference", time.Since(start))

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.metrics.Add("inference.skipped", 1)
			return nil, fmt.Errorf("%w: seq[%d] budget[%s]", vision.ErrBudgetExceeded, f.Seq, s.budget)
		}
		s.metrics.Add("inference.errors", 1)
		if errors.Is(res.err, vision.ErrInference) {
			return nil, res.err
		}
		return nil, fmt.Errorf("%w: %w", vision.ErrInference, res.err)
	}

	out, err := f.WithDetections(res.dets)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vision.ErrInference, err)
	}
	s.metrics.Add("inference.frames", 1)
	s.metrics.Add("inference.detections", int64(len(res.dets)))
	return out, nil
}

// detect 依次调用检测器，结果按模型顺序拼接
func (s *Stage) detect(ctx context.Context, f *vision.Frame) ([]vision.Detection, error) {
	var all []vision.Detection
	for _, d := range s.detectors {
		dets, err := d.Detect(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("model[%s]: %w", d.Name(), err)
		}
		for i := range dets {
			if err := dets[i].Validate(); err != nil {
				return nil, fmt.Errorf("model[%s]: %w", d.Name(), err)
			}
			if f.Bounded() {
				dets[i].Box = dets[i].Box.Clamp(f.Width, f.Height)
			}
		}
		all = append(all, dets...)
	}
	return all, nil
}

// Close 释放全部检测器
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return closeAll(s.detectors)
}
