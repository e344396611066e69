package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
)

// AlertStorer Instantiation interface
type AlertStorer interface {
	Add(context.Context, *Alert) error
	Find(context.Context, *[]*Alert, orm.Pager, AlertFilter) (int64, error)
	DeleteBefore(context.Context, time.Time) (int64, error)
}

// AddAlert Insert into database
func (c Core) AddAlert(ctx context.Context, in *AddAlertInput) (*Alert, error) {
	var out Alert
	if err := copier.Copy(&out, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}

	if err := c.store.Alert().Add(ctx, &out); err != nil {
		return nil, reason.ErrDB.Withf(`Add event[%s] err[%s]`, in.EventID, err.Error())
	}
	return &out, nil
}

// FindAlerts 分页查询，按采集时间倒序
func (c Core) FindAlerts(ctx context.Context, in *FindAlertInput) ([]*Alert, int64, error) {
	if in.Kind != "" {
		if _, err := vision.ParseAlertKind(in.Kind); err != nil {
			return nil, 0, reason.ErrBadRequest.SetMsg(err.Error())
		}
	}
	if in.Severity != "" {
		if _, err := vision.ParseSeverity(in.Severity); err != nil {
			return nil, 0, reason.ErrBadRequest.SetMsg(err.Error())
		}
	}

	items := make([]*Alert, 0, in.Limit())
	total, err := c.store.Alert().Find(ctx, &items, in, AlertFilter{
		SourceID: in.SourceID,
		Kind:     in.Kind,
		Severity: in.Severity,
	})
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// Emit 实现告警出口，写入数据库
func (c Core) Emit(ctx context.Context, ev vision.AlertEvent) error {
	_, err := c.AddAlert(ctx, NewAddAlertInput(ev))
	return err
}
