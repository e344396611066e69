package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/ixugo/goddd/pkg/conc"
)

// StartCleanupWorker 启动定时清理，启动 1 分钟后执行一次，之后每天一次
// days 为保留天数，<=0 不清理
func (c Core) StartCleanupWorker(ctx context.Context, days int) {
	if days <= 0 {
		slog.Info("alert cleanup disabled", "days", days)
		return
	}
	slog.Info("alert cleanup worker started", "retain_days", days)
	conc.Timer(ctx, time.Minute, 24*time.Hour, func() {
		c.CleanupExpired(ctx, days)
	})
}

// CleanupExpired 删除采集时间早于 days 天前的告警
func (c Core) CleanupExpired(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := c.store.Alert().DeleteBefore(ctx, cutoff)
	if err != nil {
		slog.Error("failed to delete expired alerts", "cutoff_time", cutoff.Format(time.DateTime), "err", err)
		return 0, err
	}
	slog.Info("alert cleanup completed", "cutoff_time", cutoff.Format(time.DateTime), "alerts_deleted", n)
	return n, nil
}
