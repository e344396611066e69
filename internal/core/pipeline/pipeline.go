// Package pipeline 将来源、推理、分析与告警出口通过有界队列串联
//
//	capture -> [ingest, 满时丢最旧] -> inference -> [annotated, 满时阻塞] -> analysis -> [alerts, 满时阻塞] -> sink
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/forensight/internal/core/metrics"
	"github.com/gowvp/forensight/internal/core/source"
	"github.com/gowvp/forensight/internal/core/vision"
)

// Source 帧来源
type Source interface {
	ID() string
	Start(ctx context.Context) error
	Read(ctx context.Context, timeout time.Duration) (*vision.Frame, source.ReadStatus, error)
	Stop() error
}

// Inferencer 推理阶段
type Inferencer interface {
	Process(ctx context.Context, f *vision.Frame) (*vision.Frame, error)
	Budget() time.Duration
}

// Analyzer 分析阶段
type Analyzer interface {
	Process(ctx context.Context, f *vision.Frame) ([]vision.AlertEvent, error)
}

// Sink 告警出口，投递失败只记录不中断流水线
type Sink interface {
	Emit(ctx context.Context, ev vision.AlertEvent) error
}

// Stages 流水线各阶段
type Stages struct {
	Source    Source
	Inference Inferencer
	Analysis  Analyzer
	Sink      Sink
}

// Config 队列容量与超时
type Config struct {
	IngestCapacity   int
	QueueCapacity    int
	ReadTimeout      time.Duration
	DequeueTimeout   time.Duration
	EmitTimeout      time.Duration
	Grace            time.Duration // 停止后等待在途帧处理完的时间
	FailureThreshold int           // 单个阶段连续失败帧数上限，0 不限制
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		IngestCapacity:   8,
		QueueCapacity:    8,
		ReadTimeout:      time.Second,
		DequeueTimeout:   100 * time.Millisecond,
		EmitTimeout:      2 * time.Second,
		Grace:            2 * time.Second,
		FailureThreshold: 30,
	}
}

func (c Config) Validate() error {
	if c.IngestCapacity < 1 || c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity must be positive", vision.ErrConfiguration)
	}
	if c.ReadTimeout <= 0 || c.DequeueTimeout <= 0 || c.EmitTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", vision.ErrConfiguration)
	}
	if c.Grace < 0 || c.FailureThreshold < 0 {
		return fmt.Errorf("%w: grace and failure threshold must not be negative", vision.ErrConfiguration)
	}
	return nil
}

// Stats 运行计数快照
type Stats struct {
	SourceID        string `json:"source_id"`
	Running         bool   `json:"running"`
	Captured        uint64 `json:"captured"`
	Dropped         uint64 `json:"dropped"`
	OutOfOrder      uint64 `json:"out_of_order"`
	Inferred        uint64 `json:"inferred"`
	Skipped         uint64 `json:"skipped"`
	InferenceFailed uint64 `json:"inference_failed"`
	Analyzed        uint64 `json:"analyzed"`
	AnalysisFailed  uint64 `json:"analysis_failed"`
	Alerts          uint64 `json:"alerts"`
	AlertsFailed    uint64 `json:"alerts_failed"`
	IngestQueue     int    `json:"ingest_queue"`
	AnnotatedQueue  int    `json:"annotated_queue"`
	AlertQueue      int    `json:"alert_queue"`
}

type counters struct {
	captured, dropped, outOfOrder                  atomic.Uint64
	inferred, skipped, inferenceFailed             atomic.Uint64
	analyzed, analysisFailed, alerts, alertsFailed atomic.Uint64
}

// Pipeline 一路视频的处理流水线，Run 只能调用一次
type Pipeline struct {
	cfg     Config
	st      Stages
	log     *slog.Logger
	metrics metrics.Metrics

	ingest    *Queue[*vision.Frame]
	annotated *Queue[*vision.Frame]
	alerts    *Queue[vision.AlertEvent]

	started  atomic.Bool
	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	finished chan struct{}
	srcOnce  sync.Once

	mu     sync.Mutex
	result *Result

	inferFailures, analysisFailures atomic.Int64
	n                               counters
}

// Options 可观测性注入
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// New 校验配置并创建队列
func New(cfg Config, st Stages, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st.Source == nil || st.Inference == nil || st.Analysis == nil || st.Sink == nil {
		return nil, fmt.Errorf("%w: pipeline requires source, inference, analysis and sink", vision.ErrConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Pipeline{
		cfg:       cfg,
		st:        st,
		log:       opts.Logger.With("source", st.Source.ID()),
		metrics:   opts.Metrics,
		ingest:    NewQueue[*vision.Frame](cfg.IngestCapacity),
		annotated: NewQueue[*vision.Frame](cfg.QueueCapacity),
		alerts:    NewQueue[vision.AlertEvent](cfg.QueueCapacity),
		stopCh:    make(chan struct{}),
		finished:  make(chan struct{}),
	}, nil
}

var errAlreadyStarted = errors.New("pipeline already started")

// Run 阻塞直到流结束、ctx 取消、Stop 被调用或失败超过阈值
// 停止时先停止采集，在 Grace 内排空在途帧，超时后强制退出，来源只释放一次
func (p *Pipeline) Run(ctx context.Context) Result {
	if !p.started.CompareAndSwap(false, true) {
		return Result{Status: ExitConfigError, Err: errAlreadyStarted}
	}
	defer close(p.finished)
	defer p.closeSource()

	select {
	case <-p.stopCh:
		return Result{Status: ExitNormal}
	default:
	}

	if err := p.st.Source.Start(ctx); err != nil {
		p.log.Error("source start failed", "err", err)
		return Result{Status: StatusOf(err), Err: err}
	}
	p.running.Store(true)
	defer p.running.Store(false)
	p.log.Info("pipeline started", "ingest_capacity", p.cfg.IngestCapacity, "queue_capacity", p.cfg.QueueCapacity, "budget", p.st.Inference.Budget())

	captureCtx, stopCapture := context.WithCancel(ctx)
	defer stopCapture()
	// 工作协程不随外部 ctx 立即退出，需先排空
	workCtx, force := context.WithCancel(context.WithoutCancel(ctx))
	defer force()

	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		p.capture(captureCtx)
	}()

	var wg sync.WaitGroup
	wg.Go(func() { p.inferLoop(workCtx) })
	wg.Go(func() { p.analyzeLoop(workCtx) })
	wg.Go(func() { p.emitLoop(workCtx) })
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-ctx.Done():
		p.log.Info("pipeline cancelled")
	case <-p.stopCh:
		p.log.Info("pipeline stopping")
	}
	stopCapture()

	grace := time.NewTimer(p.cfg.Grace)
	defer grace.Stop()
	select {
	case <-workersDone:
	case <-grace.C:
		p.log.Warn("drain timeout, forcing shutdown", "grace", p.cfg.Grace,
			"ingest", p.ingest.Len(), "annotated", p.annotated.Len(), "alerts", p.alerts.Len())
		force()
		select {
		case <-workersDone:
		case <-time.After(p.cfg.DequeueTimeout):
			p.log.Error("workers did not exit after force")
		}
	}

	// 采集读取受 ReadTimeout 约束
	select {
	case <-captureDone:
	case <-time.After(p.cfg.ReadTimeout):
		p.log.Error("capture did not exit")
	}

	res := Result{Status: ExitNormal}
	p.mu.Lock()
	if p.result != nil {
		res = *p.result
	}
	p.mu.Unlock()
	s := p.Stats()
	p.log.Info("pipeline stopped", "status", res.Status, "err", res.Err,
		"captured", s.Captured, "dropped", s.Dropped, "inferred", s.Inferred, "alerts", s.Alerts)
	return res
}

// Start 在后台运行，结束后结果写入返回的通道
func (p *Pipeline) Start(ctx context.Context) <-chan Result {
	done := make(chan Result, 1)
	go func() { done <- p.Run(ctx) }()
	return done
}

// Stop 通知停止并等待 Run 返回，可重复调用
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.started.Load() {
		<-p.finished
		return
	}
	p.closeSource()
}

// Running 是否在处理中
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// halt 记录第一个致命原因并停止
func (p *Pipeline) halt(status ExitStatus, err error) {
	p.mu.Lock()
	if p.result == nil {
		p.result = &Result{Status: status, Err: err}
	}
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Pipeline) closeSource() {
	p.srcOnce.Do(func() {
		if err := p.st.Source.Stop(); err != nil {
			p.log.Warn("source stop", "err", err)
		}
	})
}

// capture 独立协程读取来源，写入采集队列，不会被下游阻塞
func (p *Pipeline) capture(ctx context.Context) {
	defer p.ingest.Close()
	for ctx.Err() == nil {
		f, status, err := p.st.Source.Read(ctx, p.cfg.ReadTimeout)
		switch {
		case status == source.ReadOK && err == nil:
			p.n.captured.Add(1)
			p.metrics.Add("frames.captured", 1)
			if dropped := p.ingest.PushDropOldest(f); dropped > 0 {
				p.n.dropped.Add(uint64(dropped))
				p.metrics.Add("frames.dropped", int64(dropped))
				p.log.Debug("ingest queue full, dropped oldest", "dropped", dropped, "seq", f.Seq)
			}
		case ctx.Err() != nil:
			return
		case status == source.ReadEOS:
			if err != nil {
				p.halt(StatusOf(err), err)
			} else {
				p.log.Info("end of stream")
			}
			return
		case err != nil:
			p.log.Error("source read", "err", err)
			p.halt(ExitStreamLost, err)
			return
		}
	}
}

func (p *Pipeline) inferLoop(ctx context.Context) {
	defer p.annotated.Close()
	var last time.Time
	for {
		f, err := p.ingest.Get(ctx, p.cfg.DequeueTimeout)
		if errors.Is(err, ErrDequeueTimeout) {
			continue
		}
		if err != nil {
			return
		}
		if f.CaptureTime.Before(last) {
			p.n.outOfOrder.Add(1)
			p.log.Warn("out of order frame dropped", "seq", f.Seq)
			continue
		}
		last = f.CaptureTime

		out, err := p.st.Inference.Process(ctx, f)
		if ctx.Err() != nil {
			return
		}
		// 超出预算按跳帧处理，不计入失败
		if errors.Is(err, vision.ErrBudgetExceeded) {
			p.n.skipped.Add(1)
			p.metrics.Add("frames.skipped", 1)
			p.log.Debug("frame skipped", "stage", "inference", "seq", f.Seq, "err", err)
			continue
		}
		if err != nil {
			p.n.inferenceFailed.Add(1)
			p.metrics.Add("frames.inference_failed", 1)
			p.log.Warn("frame dropped", "stage", "inference", "seq", f.Seq, "err", err)
			p.fail(&p.inferFailures, err)
			continue
		}
		p.inferFailures.Store(0)
		p.n.inferred.Add(1)
		p.metrics.Observe("frame.inference_latency", time.Since(f.CaptureTime))

		if err := p.annotated.Put(ctx, out); err != nil {
			return
		}
	}
}

func (p *Pipeline) analyzeLoop(ctx context.Context) {
	defer p.alerts.Close()
	for {
		f, err := p.annotated.Get(ctx, p.cfg.DequeueTimeout)
		if errors.Is(err, ErrDequeueTimeout) {
			continue
		}
		if err != nil {
			return
		}

		events, err := p.st.Analysis.Process(ctx, f)
		if ctx.Err() != nil {
			return
		}
		p.n.analyzed.Add(1)
		if err != nil {
			p.n.analysisFailed.Add(1)
			p.metrics.Add("frames.analysis_failed", 1)
			p.log.Warn("analysis failed", "stage", "analysis", "seq", f.Seq, "err", err)
			p.fail(&p.analysisFailures, err)
		} else {
			p.analysisFailures.Store(0)
		}

		for _, ev := range events {
			if err := p.alerts.Put(ctx, ev); err != nil {
				return
			}
		}
	}
}

func (p *Pipeline) emitLoop(ctx context.Context) {
	for {
		ev, err := p.alerts.Get(ctx, p.cfg.DequeueTimeout)
		if errors.Is(err, ErrDequeueTimeout) {
			continue
		}
		if err != nil {
			return
		}

		ectx, cancel := context.WithTimeout(ctx, p.cfg.EmitTimeout)
		err = p.st.Sink.Emit(ectx, ev)
		cancel()
		if err != nil {
			p.n.alertsFailed.Add(1)
			p.metrics.Add("alerts.failed", 1)
			p.log.Error("alert emit failed", "kind", ev.Kind, "rule", ev.Rule, "seq", ev.FrameSeq, "err", err)
			continue
		}
		p.n.alerts.Add(1)
		p.metrics.Add("alerts.emitted", 1)
	}
}

// fail 连续失败达到阈值时停止流水线
func (p *Pipeline) fail(counter *atomic.Int64, err error) {
	n := counter.Add(1)
	if p.cfg.FailureThreshold > 0 && n >= int64(p.cfg.FailureThreshold) {
		p.log.Error("consecutive failure threshold reached", "failures", n, "err", err)
		p.halt(ExitFailureThreshold, err)
	}
}

// Stats 计数快照
func (p *Pipeline) Stats() Stats {
	return Stats{
		SourceID:        p.st.Source.ID(),
		Running:         p.running.Load(),
		Captured:        p.n.captured.Load(),
		Dropped:         p.n.dropped.Load(),
		OutOfOrder:      p.n.outOfOrder.Load(),
		Inferred:        p.n.inferred.Load(),
		Skipped:         p.n.skipped.Load(),
		InferenceFailed: p.n.inferenceFailed.Load(),
		Analyzed:        p.n.analyzed.Load(),
		AnalysisFailed:  p.n.analysisFailed.Load(),
		Alerts:          p.n.alerts.Load(),
		AlertsFailed:    p.n.alertsFailed.Load(),
		IngestQueue:     p.ingest.Len(),
		AnnotatedQueue:  p.annotated.Len(),
		AlertQueue:      p.alerts.Len(),
	}
}
