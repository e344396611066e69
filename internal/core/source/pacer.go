package source

import (
	"context"
	"time"
)

// pacer 按固定帧率放行，落后时不补帧
type pacer struct {
	interval time.Duration
	next     time.Time
}

func newPacer(fps float64) *pacer {
	p := &pacer{}
	if fps > 0 {
		p.interval = time.Duration(float64(time.Second) / fps)
	}
	return p
}

// wait 阻塞到下一帧时间点，ctx 先结束时返回其错误且不消耗该时间点
func (p *pacer) wait(ctx context.Context) error {
	now := time.Now()
	if p.next.IsZero() || p.interval == 0 {
		p.next = now.Add(p.interval)
		return ctx.Err()
	}
	if d := p.next.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		now = p.next
	}
	p.next = now.Add(p.interval)
	return nil
}
