package alertdb

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/gowvp/forensight/internal/core/alert"
	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func generateMockDB() (*gorm.DB, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, nil, err
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Discard})
	return gdb, mock, err
}

func TestAlertDeleteBefore(t *testing.T) {
	db, mock, err := generateMockDB()
	if err != nil {
		t.Fatal(err)
	}
	store := NewDB(db).Alert()

	cutoff := time.Now().AddDate(0, 0, -30)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "alerts" WHERE captured_at < \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := store.DeleteBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("deleted = %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal("ExpectationsWereMet err:", err)
	}
}

func TestAlertFindEmpty(t *testing.T) {
	db, mock, err := generateMockDB()
	if err != nil {
		t.Fatal(err)
	}
	store := NewDB(db).Alert()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "alerts" WHERE source_id = \$1`).
		WithArgs("Cam-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	var out []*alert.Alert
	total, err := store.Find(context.Background(), &out, &web.PagerFilter{Page: 1, Size: 10}, alert.AlertFilter{SourceID: "Cam-01"})
	if err != nil || total != 0 {
		t.Fatalf("Find() = %d, %v", total, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal("ExpectationsWereMet err:", err)
	}
}

func TestCoreWithSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	core := alert.NewCore(NewDB(db).AutoMigrate(true))
	ctx := context.Background()

	base := time.Now()
	events := []vision.AlertEvent{
		{ID: "a1", Kind: vision.AlertObjectDetected, Rule: "people", SourceID: "Cam-01", FrameSeq: 1, CaptureTime: base.AddDate(0, 0, -40)},
		{ID: "a2", Kind: vision.AlertWeaponDetected, Rule: "weapon", Severity: vision.SeverityCritical, SourceID: "Cam-01", FrameSeq: 2, CaptureTime: base,
			Trigger: &vision.Detection{Label: "person", Confidence: 0.9, Box: vision.BBox{X: 1, Y: 2, W: 3, H: 4}, Attributes: map[string]any{"has_weapon": true}}},
		{ID: "a3", Kind: vision.AlertObjectDetected, Rule: "people", SourceID: "Cam-02", FrameSeq: 1, CaptureTime: base},
	}
	for _, ev := range events {
		if err := core.Emit(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	items, total, err := core.FindAlerts(ctx, &alert.FindAlertInput{PagerFilter: web.PagerFilter{Page: 1, Size: 10}, SourceID: "Cam-01"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || items[0].EventID != "a2" {
		t.Fatalf("total = %d items = %+v", total, items)
	}
	if items[0].Trigger == nil || items[0].Trigger.Box.W != 3 || items[0].Severity != "critical" {
		t.Fatalf("trigger not persisted: %+v", items[0])
	}

	n, err := core.CleanupExpired(ctx, 30)
	if err != nil || n != 1 {
		t.Fatalf("CleanupExpired() = %d, %v", n, err)
	}

	if _, _, err := core.FindAlerts(ctx, &alert.FindAlertInput{Kind: "GUN"}); err == nil {
		t.Fatal("expect bad request for unknown kind")
	}
}
