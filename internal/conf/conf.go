package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// 环境变量覆盖配置文件
const (
	EnvSourceURI  = "FORENSIGHT_SOURCE_URI"
	EnvModelPaths = "FORENSIGHT_MODEL_PATHS"
	EnvHTTPPort   = "FORENSIGHT_HTTP_PORT"
	EnvDSN        = "FORENSIGHT_DSN"
	EnvDebug      = "FORENSIGHT_DEBUG"
)

// DefaultConfig 默认配置，复现演示流水线：mock 摄像头 5 帧，mock 模型，持枪告警
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: ServerHTTP{Port: 15123},
		},
		Log: Log{
			Dir:          "logs",
			Level:        "info",
			MaxAge:       Duration(7 * 24 * time.Hour),
			RotationTime: Duration(12 * time.Hour),
		},
		Data: Data{
			Database: Database{
				Dsn:             "configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: Duration(6 * time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Pipeline: Pipeline{
			IngestCapacity:   8,
			QueueCapacity:    8,
			ReadTimeout:      Duration(time.Second),
			DequeueTimeout:   Duration(100 * time.Millisecond),
			EmitTimeout:      Duration(2 * time.Second),
			Grace:            Duration(2 * time.Second),
			FailureThreshold: 30,
		},
		Source: Source{
			URI:           "mock://Cam-01?fps=10&frames=5",
			Width:         1280,
			Height:        720,
			FPS:           5,
			Transport:     "tcp",
			MaxRetries:    5,
			RetryDelay:    Duration(time.Second),
			MaxRetryDelay: Duration(30 * time.Second),
		},
		Inference: Inference{
			ModelPaths: []string{"mock"},
			Budget:     Duration(500 * time.Millisecond),
		},
		Analysis: Analysis{
			Rules: []Rule{
				{
					Name:     "weapon",
					Type:     "attribute",
					Kind:     string(vision.AlertWeaponDetected),
					Severity: "critical",
					Key:      "has_weapon",
					Value:    true,
				},
			},
		},
		Alert: Alert{RetainDays: 30},
	}
}

// SetupConfig 读取配置文件，不存在时写入默认配置
// 同目录下的 .env 会先被加载，随后应用 FORENSIGHT_* 环境变量
func SetupConfig(path string) (*Bootstrap, error) {
	bc := DefaultConfig()
	bc.ConfigPath = path
	bc.ConfigDir = filepath.Dir(path)

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := WriteConfig(&bc, path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("%w: read config: %w", vision.ErrConfiguration, err)
	default:
		if err := toml.Unmarshal(b, &bc); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", vision.ErrConfiguration, path, err)
		}
	}

	// .env 不存在是正常情况
	_ = godotenv.Load(filepath.Join(bc.ConfigDir, ".env"))
	if err := bc.applyEnv(); err != nil {
		return nil, err
	}
	return &bc, bc.Validate()
}

// WriteConfig 将配置写回文件
func WriteConfig(bc *Bootstrap, path string) error {
	b, err := toml.Marshal(bc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

func (bc *Bootstrap) applyEnv() error {
	if v := os.Getenv(EnvSourceURI); v != "" {
		bc.Source.URI = v
	}
	if v := os.Getenv(EnvModelPaths); v != "" {
		paths := strings.Split(v, ",")
		for i := range paths {
			paths[i] = strings.TrimSpace(paths[i])
		}
		bc.Inference.ModelPaths = paths
	}
	if v := os.Getenv(EnvDSN); v != "" {
		bc.Data.Database.Dsn = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", vision.ErrConfiguration, EnvHTTPPort, v)
		}
		bc.Server.HTTP.Port = port
	}
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", vision.ErrConfiguration, EnvDebug, v)
		}
		bc.Debug = debug
	}
	return nil
}

// Validate 启动前检查，错误均包装 vision.ErrConfiguration
func (bc *Bootstrap) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	p := bc.Pipeline
	check(p.IngestCapacity > 0, "pipeline.ingest_capacity must be positive")
	check(p.QueueCapacity > 0, "pipeline.queue_capacity must be positive")
	check(p.ReadTimeout > 0, "pipeline.read_timeout must be positive")
	check(p.DequeueTimeout > 0, "pipeline.dequeue_timeout must be positive")
	check(p.EmitTimeout > 0, "pipeline.emit_timeout must be positive")
	check(p.Grace >= 0, "pipeline.grace must not be negative")
	check(p.FailureThreshold >= 0, "pipeline.failure_threshold must not be negative")

	check(bc.Source.URI != "", "source.uri is required")
	check(bc.Source.MaxRetries >= 0, "source.max_retries must not be negative")
	check(bc.Source.RetryDelay > 0, "source.retry_delay must be positive")
	check(bc.Source.MaxRetryDelay >= bc.Source.RetryDelay, "source.max_retry_delay[%s] must not be less than retry_delay[%s]",
		bc.Source.MaxRetryDelay.Duration(), bc.Source.RetryDelay.Duration())
	check(len(bc.Inference.ModelPaths) > 0, "inference.model_paths is required")
	check(bc.Inference.Budget > 0, "inference.budget must be positive")
	check(bc.Alert.RetainDays >= 0, "alert.retain_days must not be negative")
	if !bc.Server.HTTP.Disabled {
		check(bc.Server.HTTP.Port > 0 && bc.Server.HTTP.Port < 65536, "server.http.port[%d] out of range", bc.Server.HTTP.Port)
	}
	for i, r := range bc.Analysis.Rules {
		check(r.Name != "", "analysis.rules[%d].name is required", i)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", vision.ErrConfiguration, errors.Join(errs...))
}
