// Package source 视频帧来源
// Stream 负责状态机、序号与重试，具体的拉流方式由 Driver 实现
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/gowvp/forensight/pkg/ffwork"
)

// ReadStatus 读取结果，用状态码区分流结束与暂时无帧
type ReadStatus int

const (
	ReadOK  ReadStatus = iota // 拿到一帧
	ReadGap                   // 超时内无帧，可继续读
	ReadEOS                   // 流已结束
)

func (s ReadStatus) String() string {
	switch s {
	case ReadOK:
		return "ok"
	case ReadGap:
		return "gap"
	case ReadEOS:
		return "eos"
	}
	return "unknown"
}

// State Idle -> Running -> Stopped，Stopped 为终态
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	return [...]string{"idle", "running", "stopped"}[s]
}

// ErrNoFrame 驱动暂时没有帧，不计入失败次数
var ErrNoFrame = errors.New("no frame available")

// ErrNotRunning 未启动或已停止
var ErrNotRunning = errors.New("source not running")

// Source 流水线使用的帧来源
type Source interface {
	ID() string
	Start(ctx context.Context) error
	Read(ctx context.Context, timeout time.Duration) (*vision.Frame, ReadStatus, error)
	Stop() error
	State() State
}

// Driver 具体拉流实现，由 Stream 串行调用
// Next 返回 io.EOF 表示流结束，ErrNoFrame 或 ctx 超时表示暂时无帧，其余错误视为读取失败
type Driver interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (*vision.Frame, error)
	Close() error
}

// Reconnector 读取失败后可以重新建立连接的驱动
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Options 重试参数
type Options struct {
	MaxRetries    int           // 连续失败超过该次数判定断流
	RetryDelay    time.Duration // 首次重试等待，之后翻倍
	MaxRetryDelay time.Duration
	Logger        *slog.Logger
}

// Stream 在 Driver 之上实现 Source
type Stream struct {
	id     string
	driver Driver
	opts   Options
	log    *slog.Logger

	state    atomic.Int32
	mu       sync.Mutex // 保护读取过程
	seq      uint64
	failures int
	retryAt  time.Time // 待重连的时间点，零值表示无需重连
	last     time.Time

	stopOnce sync.Once
	stopErr  error

	// 供 Stats 无锁读取
	frames, failN atomic.Int64
}

// StreamStats 来源运行状态
type StreamStats struct {
	ID       string        `json:"id"`
	State    string        `json:"state"`
	Frames   int64         `json:"frames"`
	Failures int64         `json:"failures"` // 当前连续失败次数
	Capture  *ffwork.Stats `json:"capture,omitempty"`
}

// captureStatser 可以汇报拉流统计的驱动
type captureStatser interface {
	Stats() ffwork.Stats
}

var _ Source = (*Stream)(nil)

// NewStream id 为来源标识，写入每一帧的 SourceID
func NewStream(id string, d Driver, opts Options) *Stream {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = opts.RetryDelay
	}
	return &Stream{
		id:     id,
		driver: d,
		opts:   opts,
		log:    opts.Logger.With("source", id),
	}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) State() State { return State(s.state.Load()) }

// Start 打开设备，失败返回 ErrConnection 并保持 Idle
// 打开期间被 Stop 时释放刚打开的设备并返回 ErrNotRunning
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateRunning:
		return nil
	case StateStopped:
		return fmt.Errorf("%w: source[%s] already stopped", ErrNotRunning, s.id)
	}
	if err := s.driver.Open(ctx); err != nil {
		if errors.Is(err, vision.ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: source[%s]: %w", vision.ErrConnection, s.id, err)
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		_ = s.driver.Close()
		return fmt.Errorf("%w: source[%s] stopped while starting", ErrNotRunning, s.id)
	}
	s.log.Info("source started")
	return nil
}

// Read 最多阻塞 timeout
// 读取失败后按指数退避重连，退避时间跨越多次 Read 累计，连续失败超过 MaxRetries 返回 ErrStreamLost
func (s *Stream) Read(ctx context.Context, timeout time.Duration) (*vision.Frame, ReadStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateIdle:
		return nil, ReadGap, fmt.Errorf("%w: source[%s] not started", ErrNotRunning, s.id)
	case StateStopped:
		return nil, ReadEOS, nil
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if !s.retryAt.IsZero() {
			if err := s.waitRetry(rctx); err != nil {
				if ctx.Err() != nil {
					return nil, ReadGap, ctx.Err()
				}
				// 退避未结束，下次 Read 继续等待
				return nil, ReadGap, nil
			}
			s.retryAt = time.Time{}
			if r, ok := s.driver.(Reconnector); ok {
				// 重连不受单次读取超时限制
				if err := r.Reconnect(ctx); err != nil {
					s.log.Warn("reconnect failed", "attempt", s.failures, "err", err)
				}
			}
		}

		f, err := s.driver.Next(rctx)
		switch {
		case err == nil:
			s.failures = 0
			s.failN.Store(0)
			return s.stamp(f), ReadOK, nil
		case errors.Is(err, io.EOF):
			s.log.Info("end of stream", "frames", s.seq)
			return nil, ReadEOS, nil
		case ctx.Err() != nil:
			return nil, ReadGap, ctx.Err()
		case errors.Is(err, ErrNoFrame), errors.Is(err, context.DeadlineExceeded):
			return nil, ReadGap, nil
		}

		s.failures++
		s.failN.Store(int64(s.failures))
		if s.failures > s.opts.MaxRetries {
			s.log.Error("stream lost", "failures", s.failures, "err", err)
			return nil, ReadEOS, fmt.Errorf("%w: source[%s] after %d failures: %w", vision.ErrStreamLost, s.id, s.failures, err)
		}
		delay := s.backoff()
		s.retryAt = time.Now().Add(delay)
		s.log.Warn("read failed, retrying", "attempt", s.failures, "delay", delay, "err", err)
	}
}

// waitRetry 等到 retryAt，ctx 先结束时返回其错误
func (s *Stream) waitRetry(ctx context.Context) error {
	d := time.Until(s.retryAt)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff 第 n 次失败等待 RetryDelay*2^(n-1)，不超过 MaxRetryDelay
func (s *Stream) backoff() time.Duration {
	d := s.opts.RetryDelay
	for i := 1; i < s.failures && d < s.opts.MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, s.opts.MaxRetryDelay)
}

// stamp 补全来源信息，保证序号递增、采集时间不回退
func (s *Stream) stamp(f *vision.Frame) *vision.Frame {
	s.seq++
	f.Seq = s.seq
	f.SourceID = s.id
	if f.CaptureTime.IsZero() {
		f.CaptureTime = time.Now()
	}
	if f.CaptureTime.Before(s.last) {
		f.CaptureTime = s.last
	}
	s.last = f.CaptureTime
	s.frames.Store(int64(s.seq))
	return f
}

// Stats 不等待进行中的 Read
func (s *Stream) Stats() StreamStats {
	out := StreamStats{
		ID:       s.id,
		State:    s.State().String(),
		Frames:   s.frames.Load(),
		Failures: s.failN.Load(),
	}
	if c, ok := s.driver.(captureStatser); ok {
		st := c.Stats()
		out.Capture = &st
	}
	return out
}

// Stop 可重复调用，仅第一次释放设备
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateStopped)))
		if prev != StateRunning {
			return
		}
		// 等待进行中的 Read 结束
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopErr = s.driver.Close()
		s.log.Info("source stopped", "frames", s.seq)
	})
	return s.stopErr
}
