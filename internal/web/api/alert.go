package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gowvp/forensight/internal/core/alert"
	"github.com/gowvp/forensight/internal/core/alert/store/alertdb"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

// AlertAPI 告警历史与实时推送
type AlertAPI struct {
	alertCore *alert.Core
	hub       *LiveHub
}

// NewAlertCore 告警存储关闭时返回 nil
func NewAlertCore(db *gorm.DB) *alert.Core {
	if db == nil {
		return nil
	}
	core := alert.NewCore(alertdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate()))
	return &core
}

func NewAlertAPI(core *alert.Core, hub *LiveHub) AlertAPI {
	return AlertAPI{alertCore: core, hub: hub}
}

func RegisterAlert(g gin.IRouter, api AlertAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/alerts", handler...)
	group.GET("", web.WrapH(api.findAlerts))
	group.GET("/ws", api.hub.ServeWS)
}

func (a AlertAPI) findAlerts(c *gin.Context, in *alert.FindAlertInput) (any, error) {
	if a.alertCore == nil {
		return nil, reason.ErrNotFound.SetMsg("告警存储未启用")
	}
	items, total, err := a.alertCore.FindAlerts(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}
