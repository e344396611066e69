package alert

import (
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
)

// Alert 告警历史记录
type Alert struct {
	ID         int64             `gorm:"primaryKey" json:"id"`
	EventID    string            `gorm:"column:event_id;size:36;uniqueIndex" json:"event_id"` // 告警事件 uuid
	Kind       string            `gorm:"size:32;index" json:"kind"`                           // WEAPON_DETECTED 等
	Rule       string            `gorm:"size:64" json:"rule"`                                 // 命中的规则名
	Severity   string            `gorm:"size:16" json:"severity"`                             // info/warning/critical
	SourceID   string            `gorm:"size:64;index" json:"source_id"`                      // 视频源
	FrameSeq   uint64            `json:"frame_seq"`                                           // 帧序号
	CapturedAt time.Time         `gorm:"index" json:"captured_at"`                            // 帧采集时间
	Trigger    *vision.Detection `gorm:"serializer:json" json:"trigger,omitempty"`            // 触发检测
	CreatedAt  time.Time         `json:"created_at"`
}

// TableName 数据库表名
func (*Alert) TableName() string {
	return "alerts"
}
