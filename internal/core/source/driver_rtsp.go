package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/gowvp/forensight/pkg/ffwork"
)

// 各协议默认端口
var defaultPorts = map[string]string{
	"rtsp":  "554",
	"rtsps": "322",
	"rtmp":  "1935",
	"http":  "80",
	"https": "443",
}

// RTSPDriver 通过 ffmpeg 拉流，输出 yuv420p 原始帧
type RTSPDriver struct {
	cfg         ffwork.Config
	addr        string        // 拉流前探测的 host:port
	dialTimeout time.Duration // 探测超时

	m  sync.Mutex
	fc *ffwork.FrameCapture
}

var (
	_ Driver      = (*RTSPDriver)(nil)
	_ Reconnector = (*RTSPDriver)(nil)
)

func newRTSPDriver(cfg ffwork.Config) (*RTSPDriver, error) {
	// 提前校验参数
	if _, err := ffwork.NewFrameCapture(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", vision.ErrConfiguration, err)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: stream url[%s] has no host", vision.ErrConfiguration, cfg.URL)
	}
	port := u.Port()
	if port == "" {
		port = defaultPorts[u.Scheme]
	}
	return &RTSPDriver{
		cfg:         cfg,
		addr:        net.JoinHostPort(u.Hostname(), port),
		dialTimeout: 5 * time.Second,
	}, nil
}

// Open 先探测服务端口，不可达时返回 ErrConnection，再启动 ffmpeg
func (d *RTSPDriver) Open(ctx context.Context) error {
	if err := d.probe(ctx); err != nil {
		return err
	}
	fc, err := ffwork.NewFrameCapture(d.cfg)
	if err != nil {
		return err
	}
	if err := fc.Start(); err != nil {
		return fmt.Errorf("%w: %w", vision.ErrConnection, err)
	}
	d.m.Lock()
	d.fc = fc
	d.m.Unlock()
	return nil
}

func (d *RTSPDriver) probe(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dctx, "tcp", d.addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", vision.ErrConnection, d.addr, err)
	}
	return conn.Close()
}

func (d *RTSPDriver) capture() *ffwork.FrameCapture {
	d.m.Lock()
	defer d.m.Unlock()
	return d.fc
}

// Next ffmpeg 退出视为读取失败，由 Stream 重连
func (d *RTSPDriver) Next(ctx context.Context) (*vision.Frame, error) {
	fc := d.capture()
	if fc == nil {
		return nil, ffwork.ErrStreamEnded
	}
	data, err := fc.Next(ctx)
	if err != nil {
		if errors.Is(err, ffwork.ErrStreamEnded) {
			return nil, fmt.Errorf("%w, ffmpeg: %v", err, fc.Log())
		}
		return nil, err
	}
	return &vision.Frame{
		CaptureTime: data.Timestamp,
		Width:       d.cfg.Width,
		Height:      d.cfg.Height,
		Payload:     data.Data,
		Metadata:    map[string]any{"driver": "rtsp", "pix_fmt": "yuv420p", "ffmpeg_frame": data.FrameNum},
	}, nil
}

// Reconnect 结束旧进程并重新拉流
func (d *RTSPDriver) Reconnect(ctx context.Context) error {
	if err := d.Close(); err != nil {
		return err
	}
	return d.Open(ctx)
}

func (d *RTSPDriver) Close() error {
	d.m.Lock()
	fc := d.fc
	d.fc = nil
	d.m.Unlock()
	if fc == nil {
		return nil
	}
	return fc.Stop()
}

// Stats ffmpeg 统计，未运行时只有名称与帧大小
func (d *RTSPDriver) Stats() ffwork.Stats {
	if fc := d.capture(); fc != nil {
		return fc.Stats()
	}
	return ffwork.Stats{Name: d.cfg.Name, FrameSize: d.cfg.Width * d.cfg.Height * 3 / 2}
}
