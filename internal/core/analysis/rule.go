// Package analysis 规则分析阶段
package analysis

import (
	"fmt"
	"math"
	"slices"

	"github.com/gowvp/forensight/internal/core/vision"
)

// Verdict 规则评估结果，Trigger 为首个命中的检测
type Verdict struct {
	Matched bool
	Trigger *vision.Detection
}

// Rule 规则谓词，实现需无状态
type Rule interface {
	Name() string
	Kind() vision.AlertKind
	Severity() vision.Severity
	Evaluate(dets []vision.Detection) (Verdict, error)
}

type meta struct {
	name     string
	kind     vision.AlertKind
	severity vision.Severity
}

func (m meta) Name() string              { return m.name }
func (m meta) Kind() vision.AlertKind    { return m.kind }
func (m meta) Severity() vision.Severity { return m.severity }

// filter 标签与置信度过滤，labels 为空表示任意标签
type filter struct {
	labels        []string
	minConfidence float64
}

func (f filter) match(d vision.Detection) bool {
	if len(f.labels) > 0 && !slices.Contains(f.labels, d.Label) {
		return false
	}
	return d.Confidence >= f.minConfidence
}

func matched(d vision.Detection) Verdict {
	return Verdict{Matched: true, Trigger: &d}
}

// LabelRule 出现指定标签即告警
type LabelRule struct {
	meta
	filter
}

var _ Rule = (*LabelRule)(nil)

func (r *LabelRule) Evaluate(dets []vision.Detection) (Verdict, error) {
	for _, d := range dets {
		if r.match(d) {
			return matched(d), nil
		}
	}
	return Verdict{}, nil
}

// AttributeRule 检测属性等于期望值，例如 has_weapon=true
type AttributeRule struct {
	meta
	filter
	key   string
	value any
}

var _ Rule = (*AttributeRule)(nil)

func (r *AttributeRule) Evaluate(dets []vision.Detection) (Verdict, error) {
	for _, d := range dets {
		if !r.match(d) {
			continue
		}
		v, ok := d.Attributes[r.key]
		if !ok {
			continue
		}
		eq, err := equal(v, r.value)
		if err != nil {
			return Verdict{}, fmt.Errorf("rule[%s] label[%s] attribute[%s]: %w", r.name, d.Label, r.key, err)
		}
		if eq {
			return matched(d), nil
		}
	}
	return Verdict{}, nil
}

// equal 数字按数值比较，其余要求类型一致
func equal(got, want any) (bool, error) {
	if w, ok := toFloat(want); ok {
		g, ok := toFloat(got)
		if !ok {
			return false, fmt.Errorf("got %T, want number", got)
		}
		return g == w, nil
	}
	switch w := want.(type) {
	case bool:
		g, ok := got.(bool)
		if !ok {
			return false, fmt.Errorf("got %T, want bool", got)
		}
		return g == w, nil
	case string:
		g, ok := got.(string)
		if !ok {
			return false, fmt.Errorf("got %T, want string", got)
		}
		return g == w, nil
	}
	return false, fmt.Errorf("unsupported value type %T", want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	}
	return 0, false
}

// CountRule 同类目标数量达到阈值，触发检测为达到阈值的那一个
type CountRule struct {
	meta
	filter
	minCount int
}

var _ Rule = (*CountRule)(nil)

func (r *CountRule) Evaluate(dets []vision.Detection) (Verdict, error) {
	var n int
	for _, d := range dets {
		if !r.match(d) {
			continue
		}
		if n++; n >= r.minCount {
			return matched(d), nil
		}
	}
	return Verdict{}, nil
}

// ZoneRule 目标进入区域
type ZoneRule struct {
	meta
	filter
	zone vision.BBox
}

var _ Rule = (*ZoneRule)(nil)

func (r *ZoneRule) Evaluate(dets []vision.Detection) (Verdict, error) {
	for _, d := range dets {
		if r.match(d) && r.zone.Intersects(d.Box) {
			return matched(d), nil
		}
	}
	return Verdict{}, nil
}
