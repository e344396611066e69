package vision

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// Frame 一帧图像及其采集信息
// 采集后不可修改，沿流水线移交所有权，同一时刻只有一个消费者
// Payload 按引用共享，任何阶段都不能修改其内容
type Frame struct {
	SourceID    string         // 来源摄像头 ID
	Seq         uint64         // 来源内单调递增的序号，从 1 开始
	CaptureTime time.Time      // 采集时间 (含单调时钟)
	Width       int            // 像素宽度，0 表示未知
	Height      int            // 像素高度，0 表示未知
	Payload     []byte         // 图像数据 (jpeg/png/yuv420p)
	Metadata    map[string]any // 附加信息

	detections []Detection
	annotated  bool
}

// Detections 返回检测结果副本，顺序即检测器输出顺序
func (f *Frame) Detections() []Detection {
	out := make([]Detection, len(f.detections))
	for i, d := range f.detections {
		out[i] = d.Clone()
	}
	return out
}

// Annotated 是否已经经过推理阶段
func (f *Frame) Annotated() bool {
	return f.annotated
}

// WithDetections 返回附带检测结果的新帧
// 每帧每轮只能写入一次检测结果，已标注的帧再次写入返回 ErrDetectionsSealed
func (f *Frame) WithDetections(dets []Detection) (*Frame, error) {
	if f.annotated {
		return nil, fmt.Errorf("%w: source[%s] seq[%d]", ErrDetectionsSealed, f.SourceID, f.Seq)
	}
	out := *f
	out.Metadata = maps.Clone(f.Metadata)
	out.detections = make([]Detection, len(dets))
	for i, d := range dets {
		out.detections[i] = d.Clone()
	}
	out.annotated = true
	return &out, nil
}

// Bounded 帧尺寸是否已知
func (f *Frame) Bounded() bool {
	return f.Width > 0 && f.Height > 0
}

// BBox 像素坐标边界框，(X,Y) 为左上角
type BBox struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// NewBBox 由 [x,y,w,h] 构造
func NewBBox(v []int) (BBox, error) {
	if len(v) != 4 {
		return BBox{}, fmt.Errorf("bbox requires 4 integers, got %d", len(v))
	}
	return BBox{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

// Clamp 将边界框限制在 width x height 范围内
func (b BBox) Clamp(width, height int) BBox {
	x1 := min(max(b.X, 0), width)
	y1 := min(max(b.Y, 0), height)
	x2 := min(max(b.X+b.W, 0), width)
	y2 := min(max(b.Y+b.H, 0), height)
	return BBox{X: x1, Y: y1, W: max(x2-x1, 0), H: max(y2-y1, 0)}
}

// Within 是否完全位于 width x height 范围内
func (b BBox) Within(width, height int) bool {
	return b.X >= 0 && b.Y >= 0 && b.W >= 0 && b.H >= 0 && b.X+b.W <= width && b.Y+b.H <= height
}

// Intersects 两个边界框是否有重叠面积
func (b BBox) Intersects(o BBox) bool {
	return b.X < o.X+o.W && o.X < b.X+b.W && b.Y < o.Y+o.H && o.Y < b.Y+b.H
}

// Area 像素面积
func (b BBox) Area() int {
	return b.W * b.H
}

// Detection 模型输出的单个目标
type Detection struct {
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"` // [0,1]
	Box        BBox           `json:"box"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Validate 检查置信度与边界框
func (d Detection) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInference)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: label[%s] confidence[%v] out of [0,1]", ErrInference, d.Label, d.Confidence)
	}
	if d.Box.W < 0 || d.Box.H < 0 {
		return fmt.Errorf("%w: label[%s] negative box size", ErrInference, d.Label)
	}
	return nil
}

// Clone 深拷贝属性表
func (d Detection) Clone() Detection {
	d.Attributes = maps.Clone(d.Attributes)
	return d
}

// AlertKind 告警类型
type AlertKind string

const (
	AlertWeaponDetected AlertKind = "WEAPON_DETECTED"
	AlertIntrusion      AlertKind = "INTRUSION"
	AlertCrowding       AlertKind = "CROWDING"
	AlertObjectDetected AlertKind = "OBJECT_DETECTED"
	AlertViolence       AlertKind = "VIOLENCE_DETECTED"
)

var alertKinds = []AlertKind{AlertWeaponDetected, AlertIntrusion, AlertCrowding, AlertObjectDetected, AlertViolence}

// ParseAlertKind 校验告警类型
func ParseAlertKind(s string) (AlertKind, error) {
	k := AlertKind(s)
	if !slices.Contains(alertKinds, k) {
		return "", fmt.Errorf("%w: unknown alert kind[%s]", ErrConfiguration, s)
	}
	return k, nil
}

// Severity 告警级别
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity 空字符串视为 warning
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return SeverityInfo, nil
	case "", "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("%w: unknown severity[%s]", ErrConfiguration, s)
}

// AlertEvent 规则命中产生的告警，生成后不再修改，由告警出口消费一次
// Trigger 为触发检测的值拷贝，不持有帧内数据
type AlertEvent struct {
	ID          string     `json:"id"`
	Kind        AlertKind  `json:"kind"`
	Rule        string     `json:"rule"`
	Severity    Severity   `json:"severity"`
	SourceID    string     `json:"source_id"`
	FrameSeq    uint64     `json:"frame_seq"`
	CaptureTime time.Time  `json:"capture_time"`
	Trigger     *Detection `json:"trigger,omitempty"`
}
