package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"gopkg.in/yaml.v3"
)

// FixtureDetector 从 yaml 读取预设检测结果，按帧序号回放
//
//	name: demo
//	delay: 20ms
//	default: []
//	frames:
//	  2:
//	    - label: person
//	      confidence: 0.9
//	      box: [10, 10, 50, 120]
//	      attributes: {has_weapon: true}
//	errors: [4]
type FixtureDetector struct {
	name     string
	delay    time.Duration
	fallback []vision.Detection
	frames   map[uint64][]vision.Detection
	errors   []uint64
}

var _ Detector = (*FixtureDetector)(nil)

type fixtureFile struct {
	Name    string                        `yaml:"name"`
	Delay   time.Duration                 `yaml:"delay"`
	Default []fixtureDetection            `yaml:"default"`
	Frames  map[uint64][]fixtureDetection `yaml:"frames"`
	Errors  []uint64                      `yaml:"errors"`
}

type fixtureDetection struct {
	Label      string         `yaml:"label"`
	Confidence float64        `yaml:"confidence"`
	Box        []int          `yaml:"box"`
	Attributes map[string]any `yaml:"attributes"`
}

func (d fixtureDetection) detection() (vision.Detection, error) {
	out := vision.Detection{Label: d.Label, Confidence: d.Confidence, Attributes: d.Attributes}
	if len(d.Box) == 0 {
		return out, nil
	}
	box, err := vision.NewBBox(d.Box)
	out.Box = box
	return out, err
}

func convert(in []fixtureDetection) ([]vision.Detection, error) {
	out := make([]vision.Detection, 0, len(in))
	for _, d := range in {
		v, err := d.detection()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// LoadFixture 文件不存在或格式错误返回 ErrModelLoad
func LoadFixture(path string) (*FixtureDetector, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vision.ErrModelLoad, err)
	}
	return ParseFixture(b)
}

// ParseFixture 解析 yaml 内容
func ParseFixture(b []byte) (*FixtureDetector, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("%w: fixture: %w", vision.ErrModelLoad, err)
	}
	fd := FixtureDetector{
		name:   file.Name,
		delay:  file.Delay,
		frames: make(map[uint64][]vision.Detection, len(file.Frames)),
		errors: file.Errors,
	}
	if fd.name == "" {
		fd.name = "fixture"
	}
	var err error
	if fd.fallback, err = convert(file.Default); err != nil {
		return nil, fmt.Errorf("%w: fixture default: %w", vision.ErrModelLoad, err)
	}
	for seq, dets := range file.Frames {
		if fd.frames[seq], err = convert(dets); err != nil {
			return nil, fmt.Errorf("%w: fixture frame[%d]: %w", vision.ErrModelLoad, seq, err)
		}
	}
	return &fd, nil
}

var errFixture = errors.New("scripted failure")

func (d *FixtureDetector) Name() string { return d.name }

func (d *FixtureDetector) Detect(ctx context.Context, f *vision.Frame) ([]vision.Detection, error) {
	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if slices.Contains(d.errors, f.Seq) {
		return nil, fmt.Errorf("%w: frame[%d]: %w", vision.ErrInference, f.Seq, errFixture)
	}
	dets, ok := d.frames[f.Seq]
	if !ok {
		dets = d.fallback
	}
	out := make([]vision.Detection, len(dets))
	for i, v := range dets {
		out[i] = v.Clone()
	}
	return out, nil
}

func (d *FixtureDetector) Close() error { return nil }
