// Package alertdb 告警历史的 gorm 存储
package alertdb

import (
	"github.com/gowvp/forensight/internal/core/alert"
	"gorm.io/gorm"
)

var _ alert.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Alert Get business instance
func (d DB) Alert() alert.AlertStorer {
	return (*Alert)(d.db)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if !ok {
		return d
	}
	if err := d.db.AutoMigrate(new(alert.Alert)); err != nil {
		panic(err)
	}
	return d
}
