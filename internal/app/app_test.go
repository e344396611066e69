package app

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/pipeline"
	"github.com/gowvp/forensight/internal/core/vision"
)

func testConfig(t *testing.T) *conf.Bootstrap {
	t.Helper()
	bc := conf.DefaultConfig()
	dir := t.TempDir()
	bc.ConfigDir = dir
	bc.Log.Dir = filepath.Join(dir, "logs")
	bc.Data.Database.Dsn = filepath.Join(dir, "data.db")
	bc.Server.HTTP.Disabled = true
	bc.Alert.StoreDisabled = true
	return &bc
}

func TestRunMockPipeline(t *testing.T) {
	bc := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res := run(ctx, bc, slog.Default())
	if res.Status != pipeline.ExitNormal {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
}

func TestRunConfigError(t *testing.T) {
	bc := testConfig(t)
	bc.Source.URI = "ftp://nowhere"

	res := run(context.Background(), bc, slog.Default())
	if res.Status != pipeline.ExitConfigError || !errors.Is(res.Err, vision.ErrConfiguration) {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunModelLoadError(t *testing.T) {
	bc := testConfig(t)
	bc.Inference.ModelPaths = []string{"/path/not/exist.onnx"}

	res := run(context.Background(), bc, slog.Default())
	if res.Status != pipeline.ExitConfigError || !errors.Is(res.Err, vision.ErrModelLoad) {
		t.Fatalf("result = %+v", res)
	}
}

func TestSetupLog(t *testing.T) {
	bc := testConfig(t)
	bc.Log.Level = "debug"
	log, closeLog, err := SetupLog(bc)
	if err != nil {
		t.Fatal(err)
	}
	defer closeLog()
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level not applied")
	}
	log.With("k", "v").WithGroup("g").Info("hello")

	bc.Log.Level = "verbose"
	if _, _, err := SetupLog(bc); !errors.Is(err, vision.ErrConfiguration) {
		t.Fatalf("expect ErrConfiguration, got %v", err)
	}
}
