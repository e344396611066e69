package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/alert"
	"github.com/gowvp/forensight/internal/core/alert/store/alertdb"
	"github.com/gowvp/forensight/internal/core/pipeline"
	"github.com/gowvp/forensight/internal/core/source"
	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/gowvp/forensight/pkg/ffwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakePipeline struct {
	running atomic.Bool
	stopped atomic.Int32
}

func (f *fakePipeline) Stats() pipeline.Stats {
	return pipeline.Stats{SourceID: "Cam-01", Running: f.running.Load(), Captured: 5}
}

func (f *fakePipeline) Running() bool { return f.running.Load() }

func (f *fakePipeline) Stop() {
	f.stopped.Add(1)
	f.running.Store(false)
}

type fakeSource struct{}

func (fakeSource) Stats() source.StreamStats {
	return source.StreamStats{
		ID: "Cam-01", State: "running", Frames: 5, Failures: 1,
		Capture: &ffwork.Stats{Name: "Cam-01", FrameCount: 9, SkipCount: 4, FrameSize: 460800, IsRunning: true},
	}
}

type fakeRules []string

func (r fakeRules) Rules() []string { return r }

func newTestServer(t *testing.T, core *alert.Core) (*httptest.Server, *fakePipeline, *LiveHub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bc := conf.DefaultConfig()
	bc.BuildVersion = "test"
	p := &fakePipeline{}
	p.running.Store(true)
	hub, cleanup := NewLiveHub(slog.Default())
	t.Cleanup(cleanup)

	uc := Usecase{
		Conf:        &bc,
		Pipeline:    p,
		Source:      fakeSource{},
		Rules:       fakeRules{"WeaponDetection", "LoiteringDetection"},
		Hub:         hub,
		AlertAPI:    NewAlertAPI(core, hub),
		PipelineAPI: NewPipelineAPI(p),
	}
	g := gin.New()
	registerRoutes(g, &uc)
	ts := httptest.NewServer(g)
	t.Cleanup(ts.Close)
	return ts, p, hub
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndStats(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	var health getHealthOutput
	if code := getJSON(t, ts.URL+"/health", &health); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if health.Version != "test" || !health.Running {
		t.Fatalf("health = %+v", health)
	}

	var stats getStatsOutput
	if code := getJSON(t, ts.URL+"/app/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats status = %d", code)
	}
	if stats.Pipeline.SourceID != "Cam-01" || stats.Pipeline.Captured != 5 {
		t.Fatalf("pipeline stats = %+v", stats.Pipeline)
	}
	if stats.Goroutines == 0 {
		t.Fatal("goroutines not reported")
	}
	if src := stats.Source; src == nil || src.Failures != 1 || src.Capture == nil || src.Capture.SkipCount != 4 || src.Capture.FrameCount != 9 {
		t.Fatalf("source stats = %+v", stats.Source)
	}
	if len(stats.Rules) != 2 || stats.Rules[0] != "WeaponDetection" {
		t.Fatalf("rules = %v", stats.Rules)
	}
}

func TestStatsWithoutSource(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bc := conf.DefaultConfig()
	hub, cleanup := NewLiveHub(slog.Default())
	defer cleanup()
	uc := Usecase{Conf: &bc, Pipeline: &fakePipeline{}, Hub: hub, AlertAPI: NewAlertAPI(nil, hub), PipelineAPI: NewPipelineAPI(&fakePipeline{})}
	g := gin.New()
	registerRoutes(g, &uc)
	ts := httptest.NewServer(g)
	defer ts.Close()

	var stats getStatsOutput
	if code := getJSON(t, ts.URL+"/app/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats status = %d", code)
	}
	if stats.Source != nil || len(stats.Rules) != 0 {
		t.Fatalf("unexpected source/rules %+v %v", stats.Source, stats.Rules)
	}
}

func TestStopPipeline(t *testing.T) {
	ts, p, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/pipeline/stop", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats pipeline.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Running || p.stopped.Load() != 1 {
		t.Fatalf("pipeline not stopped: %+v", stats)
	}
}

func TestFindAlertsDisabledStore(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	if code := getJSON(t, ts.URL+"/alerts", nil); code == http.StatusOK {
		t.Fatal("expect error when alert store disabled")
	}
}

func TestFindAlerts(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	core := alert.NewCore(alertdb.NewDB(db).AutoMigrate(true))
	ctx := context.Background()
	for i, sev := range []vision.Severity{vision.SeverityCritical, vision.SeverityInfo} {
		ev := vision.AlertEvent{
			ID:          "ev-" + string(rune('a'+i)),
			Kind:        vision.AlertWeaponDetected,
			Rule:        "weapon",
			Severity:    sev,
			SourceID:    "Cam-01",
			FrameSeq:    uint64(i + 1),
			CaptureTime: time.Now(),
		}
		if err := core.Emit(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	ts, _, _ := newTestServer(t, &core)
	var out struct {
		Items []alert.Alert `json:"items"`
		Total int64         `json:"total"`
	}
	if code := getJSON(t, ts.URL+"/alerts?source_id=Cam-01&page=1&size=10", &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if out.Total != 2 || len(out.Items) != 2 {
		t.Fatalf("alerts = %+v", out)
	}
}

func TestLiveHubBroadcast(t *testing.T) {
	ts, _, hub := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/alerts/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ev := vision.AlertEvent{ID: "1", Kind: vision.AlertWeaponDetected, Rule: "weapon", Severity: vision.SeverityCritical, SourceID: "Cam-01", FrameSeq: 3}
	if err := hub.Emit(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got vision.AlertEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != vision.AlertWeaponDetected || got.FrameSeq != 3 || got.Severity != vision.SeverityCritical {
		t.Fatalf("got %+v", got)
	}

	hub.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
