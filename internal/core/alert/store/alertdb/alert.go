package alertdb

import (
	"context"
	"time"

	"github.com/gowvp/forensight/internal/core/alert"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ alert.AlertStorer = &Alert{}

// Alert Related business namespaces
type Alert gorm.DB

func (a *Alert) gdb(ctx context.Context) *gorm.DB {
	return (*gorm.DB)(a).WithContext(ctx)
}

// Add implements alert.AlertStorer.
func (a *Alert) Add(ctx context.Context, model *alert.Alert) error {
	return a.gdb(ctx).Create(model).Error
}

// Find implements alert.AlertStorer.
func (a *Alert) Find(ctx context.Context, out *[]*alert.Alert, pager orm.Pager, f alert.AlertFilter) (int64, error) {
	db := a.gdb(ctx).Model(new(alert.Alert))
	if f.SourceID != "" {
		db = db.Where("source_id = ?", f.SourceID)
	}
	if f.Kind != "" {
		db = db.Where("kind = ?", f.Kind)
	}
	if f.Severity != "" {
		db = db.Where("severity = ?", f.Severity)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil || total == 0 {
		return total, err
	}
	err := db.Order("captured_at DESC").Order("id DESC").
		Limit(pager.Limit()).Offset(pager.Offset()).
		Find(out).Error
	return total, err
}

// DeleteBefore implements alert.AlertStorer.
func (a *Alert) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := a.gdb(ctx).Where("captured_at < ?", cutoff).Delete(new(alert.Alert))
	return res.RowsAffected, res.Error
}
