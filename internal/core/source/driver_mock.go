package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
)

// MockDriver 合成帧，用于演示与测试
// frames 为 0 时不结束
type MockDriver struct {
	FPS           float64
	Frames        int
	Width, Height int

	produced int
	pacer    *pacer
}

var _ Driver = (*MockDriver)(nil)

// newMockDriver 解析 mock://Cam-01?fps=10&frames=5&width=640&height=480
func newMockDriver(u *url.URL) (*MockDriver, error) {
	q := u.Query()
	d := &MockDriver{FPS: 10, Frames: 5, Width: 640, Height: 480}
	var err error
	if v := q.Get("fps"); v != "" {
		if d.FPS, err = strconv.ParseFloat(v, 64); err != nil || d.FPS < 0 {
			return nil, fmt.Errorf("%w: mock fps[%s]", vision.ErrConfiguration, v)
		}
	}
	for key, dst := range map[string]*int{"frames": &d.Frames, "width": &d.Width, "height": &d.Height} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		if *dst, err = strconv.Atoi(v); err != nil || *dst < 0 {
			return nil, fmt.Errorf("%w: mock %s[%s]", vision.ErrConfiguration, key, v)
		}
	}
	return d, nil
}

func (d *MockDriver) Open(context.Context) error {
	d.produced = 0
	d.pacer = newPacer(d.FPS)
	return nil
}

func (d *MockDriver) Next(ctx context.Context) (*vision.Frame, error) {
	if d.Frames > 0 && d.produced >= d.Frames {
		return nil, io.EOF
	}
	if err := d.pacer.wait(ctx); err != nil {
		return nil, err
	}
	d.produced++
	return &vision.Frame{
		CaptureTime: time.Now(),
		Width:       d.Width,
		Height:      d.Height,
		Payload:     []byte("mock_image_data"),
		Metadata:    map[string]any{"driver": "mock", "index": d.produced},
	}, nil
}

func (d *MockDriver) Close() error { return nil }
