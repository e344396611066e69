// Package inference 推理阶段，按顺序调用一个或多个检测器为帧附加检测结果
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/gowvp/forensight/internal/rpc"
)

// Detector 检测模型
// Detect 需要响应 ctx 取消，输出顺序即检测顺序
type Detector interface {
	Name() string
	Detect(ctx context.Context, f *vision.Frame) ([]vision.Detection, error)
	Close() error
}

var _ Detector = (*rpc.DetectorClient)(nil)

// MockDetector 固定输出一个未持械的行人
type MockDetector struct{}

var _ Detector = MockDetector{}

func (MockDetector) Name() string { return "mock" }

func (MockDetector) Detect(ctx context.Context, _ *vision.Frame) ([]vision.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []vision.Detection{{
		Label:      "person",
		Confidence: 0.95,
		Box:        vision.BBox{X: 100, Y: 100, W: 200, H: 300},
		Attributes: map[string]any{"has_weapon": false},
	}}, nil
}

func (MockDetector) Close() error { return nil }

// Open 按 model_paths 创建检测器，任何一个失败都返回 ErrModelLoad
//
//	mock
//	fixture:///path/detections.yaml 或直接写 .yaml 路径
//	grpc://127.0.0.1:50051/yolo
func Open(ctx context.Context, paths []string, log *slog.Logger) ([]Detector, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no model path", vision.ErrModelLoad)
	}
	out := make([]Detector, 0, len(paths))
	for _, p := range paths {
		d, err := open(ctx, p)
		if err != nil {
			for _, d := range out {
				_ = d.Close()
			}
			return nil, err
		}
		if log != nil {
			log.Info("model loaded", "path", p, "name", d.Name())
		}
		out = append(out, d)
	}
	return out, nil
}

func open(ctx context.Context, path string) (Detector, error) {
	if path == "mock" {
		return MockDetector{}, nil
	}
	if ext := strings.ToLower(filepath.Ext(path)); !strings.Contains(path, "://") && (ext == ".yaml" || ext == ".yml") {
		return LoadFixture(path)
	}

	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: model path[%s]: %w", vision.ErrModelLoad, path, err)
	}
	switch u.Scheme {
	case "mock":
		return MockDetector{}, nil
	case "fixture":
		return LoadFixture(filepath.Join(u.Host, u.Path))
	case "grpc":
		model := strings.TrimPrefix(u.Path, "/")
		cli, err := rpc.DialDetector(ctx, u.Host, model)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", vision.ErrModelLoad, path, err)
		}
		return cli, nil
	}
	return nil, fmt.Errorf("%w: unsupported model path[%s]", vision.ErrModelLoad, path)
}

// closeAll 关闭全部检测器
func closeAll(ds []Detector) error {
	errs := make([]error, 0, len(ds))
	for _, d := range ds {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
