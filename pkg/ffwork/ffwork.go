// Package ffwork 通过 ffmpeg 子进程拉流，按固定帧大小切分原始视频帧
package ffwork

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// ErrStreamEnded ffmpeg 输出结束，帧通道已关闭
var ErrStreamEnded = errors.New("ffmpeg stream ended")

type (
	Config struct {
		Name          string
		Binary        string // 默认 ffmpeg
		URL           string
		Width, Height int
		FPS           int
		Transport     string // rtsp 传输方式，默认 tcp
		UseWallClock  bool
		HWAccel       string
		Buffer        int // 帧通道容量，满时丢弃最旧帧
	}
	FrameData struct {
		FrameNum  uint64
		Timestamp time.Time
		Data      []byte
	}
	FrameCapture struct {
		config    Config
		frameSize int

		frameCh chan *FrameData
		errCh   chan error
		ctx     context.Context
		cancel  context.CancelFunc

		m         sync.Mutex
		started   bool
		cmd       *exec.Cmd
		lastFrame time.Time
		wg        sync.WaitGroup
		stopOnce  sync.Once
		stopErr   error

		ffmpegLog             *queue.CirQueue[string]
		frameCount, skipCount atomic.Uint64
	}
	Stats struct {
		Name       string    `json:"name"`
		FrameCount uint64    `json:"frame_count"` // 已读取帧数
		SkipCount  uint64    `json:"skip_count"`  // 消费过慢丢弃的帧数
		LastFrame  time.Time `json:"last_frame"`
		FrameSize  int       `json:"frame_size"` // 单帧字节数，yuv420p
		IsRunning  bool      `json:"is_running"`
	}
)

// NewFrameCapture 校验配置，不启动进程
func NewFrameCapture(cfg Config) (*FrameCapture, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid fps: %d", cfg.FPS)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("stream url is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FrameCapture{
		config:    cfg,
		frameSize: cfg.Width * cfg.Height * 3 / 2,
		frameCh:   make(chan *FrameData, cfg.Buffer),
		errCh:     make(chan error, 1),
		ctx:       ctx,
		cancel:    cancel,
		ffmpegLog: queue.NewCirQueue[string](100),
	}, nil
}

// Args ffmpeg 命令行参数
func (fc *FrameCapture) Args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-threads", "2",
		"-user_agent", "FFmpeg Forensight",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts+discardcorrupt",
		"-rtsp_transport", fc.config.Transport,
		"-timeout", "10000000",
	}
	if fc.config.UseWallClock {
		args = append(args, "-use_wallclock_as_timestamps", "1")
	}
	if fc.config.HWAccel != "" {
		args = append(args, "-hwaccel", fc.config.HWAccel)
	}
	args = append(args, "-i", fc.config.URL)

	return append(args,
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fc.config.FPS),
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", fc.config.FPS, fc.config.Width, fc.config.Height),
		"pipe:1",
	)
}

// Start 启动 ffmpeg，只能调用一次
func (fc *FrameCapture) Start() error {
	fc.m.Lock()
	defer fc.m.Unlock()
	if fc.started {
		return fmt.Errorf("frame capture already started")
	}

	fc.cmd = exec.CommandContext(fc.ctx, fc.config.Binary, fc.Args()...)
	stdout, err := fc.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := fc.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := fc.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", fc.config.Binary, err)
	}
	fc.started = true
	fc.lastFrame = time.Now()

	fc.wg.Go(func() { fc.captureLoop(stdout) })
	fc.wg.Go(func() { fc.readStderr(stderr) })
	return nil
}

// captureLoop 从 ffmpeg 的 stdout 读取原始视频帧数据
// 消费端跟不上时丢弃通道里最旧的一帧，保证拿到的总是最新画面
func (fc *FrameCapture) captureLoop(stdout io.Reader) {
	defer close(fc.frameCh)

	reader := bufio.NewReaderSize(stdout, fc.frameSize*2)
	for {
		if fc.ctx.Err() != nil {
			return
		}

		frameBytes := make([]byte, fc.frameSize)
		if _, err := io.ReadFull(reader, frameBytes); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = fmt.Errorf("%w: %w", ErrStreamEnded, err)
			} else {
				err = fmt.Errorf("failed to read frame: %w", err)
			}
			select {
			case fc.errCh <- err:
			default:
			}
			return
		}

		now := time.Now()
		fc.m.Lock()
		fc.lastFrame = now
		fc.m.Unlock()
		frame := &FrameData{
			FrameNum:  fc.frameCount.Add(1),
			Timestamp: now,
			Data:      frameBytes,
		}

		for {
			select {
			case fc.frameCh <- frame:
			case <-fc.ctx.Done():
				return
			default:
				select {
				case <-fc.frameCh:
					fc.skipCount.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// readStderr 读取 ffmpeg 的 stderr 输出用于排查
func (fc *FrameCapture) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		fc.ffmpegLog.Push(scan.Text())
	}
}

// Log 最近 100 行 ffmpeg 输出
func (fc *FrameCapture) Log() []string {
	return fc.ffmpegLog.Range()
}

// Next 阻塞直到拿到一帧、ctx 结束或进程退出
// 通道关闭后返回 ErrStreamEnded
func (fc *FrameCapture) Next(ctx context.Context) (*FrameData, error) {
	select {
	case frame, ok := <-fc.frameCh:
		if ok {
			return frame, nil
		}
		select {
		case err := <-fc.errCh:
			return nil, err
		default:
			return nil, ErrStreamEnded
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-fc.ctx.Done():
		return nil, ErrStreamEnded
	}
}

// Stop 结束进程并等待读取协程退出，可重复调用
func (fc *FrameCapture) Stop() error {
	fc.stopOnce.Do(func() {
		fc.cancel()
		fc.m.Lock()
		started := fc.started
		fc.m.Unlock()
		if !started {
			return
		}
		fc.wg.Wait()

		if fc.cmd == nil || fc.cmd.Process == nil {
			return
		}
		done := make(chan error, 1)
		go func() { done <- fc.cmd.Wait() }()
		select {
		case <-time.After(5 * time.Second):
			if err := fc.cmd.Process.Kill(); err != nil {
				fc.stopErr = fmt.Errorf("failed to kill ffmpeg: %w", err)
			}
			<-done
		case <-done:
		}
	})
	return fc.stopErr
}

func (fc *FrameCapture) Stats() Stats {
	fc.m.Lock()
	defer fc.m.Unlock()
	return Stats{
		Name:       fc.config.Name,
		FrameCount: fc.frameCount.Load(),
		SkipCount:  fc.skipCount.Load(),
		LastFrame:  fc.lastFrame,
		FrameSize:  fc.frameSize,
		IsRunning:  fc.started && fc.ctx.Err() == nil,
	}
}
