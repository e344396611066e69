package alert

import (
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/ixugo/goddd/pkg/web"
)

// FindAlertInput 告警查询参数
type FindAlertInput struct {
	web.PagerFilter
	SourceID string `form:"source_id"` // 视频源
	Kind     string `form:"kind"`      // 告警类型
	Severity string `form:"severity"`  // 告警级别
}

// AlertFilter 存储层过滤条件
type AlertFilter struct {
	SourceID string
	Kind     string
	Severity string
}

// AddAlertInput 新增告警
type AddAlertInput struct {
	EventID    string
	Kind       string
	Rule       string
	Severity   string
	SourceID   string
	FrameSeq   uint64
	CapturedAt time.Time
	Trigger    *vision.Detection
}

// NewAddAlertInput 由告警事件构造
func NewAddAlertInput(ev vision.AlertEvent) *AddAlertInput {
	in := AddAlertInput{
		EventID:    ev.ID,
		Kind:       string(ev.Kind),
		Rule:       ev.Rule,
		Severity:   ev.Severity.String(),
		SourceID:   ev.SourceID,
		FrameSeq:   ev.FrameSeq,
		CapturedAt: ev.CaptureTime,
	}
	if ev.Trigger != nil {
		t := ev.Trigger.Clone()
		in.Trigger = &t
	}
	return &in
}
