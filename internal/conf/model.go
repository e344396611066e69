package conf

import "time"

// Bootstrap 程序启动配置，对应 configs/config.toml
type Bootstrap struct {
	Debug        bool   `toml:"debug" comment:"调试模式，输出更详细的日志"`
	BuildVersion string `toml:"-"`
	ConfigDir    string `toml:"-"`
	ConfigPath   string `toml:"-"`

	Server    Server    `toml:"server"`
	Log       Log       `toml:"log"`
	Data      Data      `toml:"data"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Source    Source    `toml:"source"`
	Inference Inference `toml:"inference"`
	Analysis  Analysis  `toml:"analysis"`
	Alert     Alert     `toml:"alert"`
}

type Server struct {
	HTTP ServerHTTP `toml:"http"`
}

type ServerHTTP struct {
	Port     int  `toml:"port" comment:"http 端口"`
	Disabled bool `toml:"disabled" comment:"禁用 http 接口，仅运行流水线"`
}

type Log struct {
	Dir          string   `toml:"dir" comment:"日志目录，相对于工作目录"`
	Level        string   `toml:"level" comment:"debug/info/warn/error"`
	MaxAge       Duration `toml:"max_age" comment:"日志保留时长"`
	RotationTime Duration `toml:"rotation_time" comment:"日志切割周期"`
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn" comment:"sqlite 文件名，或 postgres://、mysql:// 开头的连接串"`
	MaxIdleConns    int32    `toml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

// Pipeline 队列与超时
type Pipeline struct {
	IngestCapacity   int      `toml:"ingest_capacity" comment:"采集队列容量，满时丢弃最旧帧"`
	QueueCapacity    int      `toml:"queue_capacity" comment:"阶段间队列容量，满时阻塞上游"`
	ReadTimeout      Duration `toml:"read_timeout" comment:"单次读帧最长等待"`
	DequeueTimeout   Duration `toml:"dequeue_timeout" comment:"出队最长等待，也是停止信号的响应上限"`
	EmitTimeout      Duration `toml:"emit_timeout" comment:"单次告警投递超时"`
	Grace            Duration `toml:"grace" comment:"停止时排空在途帧的宽限期"`
	FailureThreshold int      `toml:"failure_threshold" comment:"连续失败多少帧后停止流水线，0 表示不限制"`
}

// Source 视频源
type Source struct {
	URI           string   `toml:"uri" comment:"mock://Cam-01?fps=10&frames=5 | dir:///path?fps=5&loop=true | rtsp://..."`
	Width         int      `toml:"width" comment:"rtsp 输出宽度"`
	Height        int      `toml:"height" comment:"rtsp 输出高度"`
	FPS           int      `toml:"fps" comment:"rtsp 抽帧帧率"`
	Transport     string   `toml:"transport" comment:"rtsp 传输方式 tcp/udp"`
	HWAccel       string   `toml:"hwaccel" comment:"ffmpeg 硬件加速，留空不启用"`
	MaxRetries    int      `toml:"max_retries" comment:"读取失败最大重试次数"`
	RetryDelay    Duration `toml:"retry_delay" comment:"首次重试间隔，之后指数增长"`
	MaxRetryDelay Duration `toml:"max_retry_delay"`
}

// Inference 模型
type Inference struct {
	ModelPaths []string `toml:"model_paths" comment:"mock | fixture:///path.yaml | grpc://host:port/model"`
	Budget     Duration `toml:"budget" comment:"单帧推理时间预算，超出则跳过该帧"`
}

// Analysis 规则
type Analysis struct {
	RuleFile string `toml:"rule_file" comment:"yaml 规则文件，追加在内联规则之后"`
	Rules    []Rule `toml:"rules"`
}

// Rule 单条规则定义，toml 与 yaml 共用
type Rule struct {
	Name          string   `toml:"name" yaml:"name"`
	Type          string   `toml:"type" yaml:"type" comment:"label/attribute/count/zone"`
	Kind          string   `toml:"kind" yaml:"kind" comment:"WEAPON_DETECTED/INTRUSION/CROWDING/OBJECT_DETECTED/VIOLENCE_DETECTED"`
	Severity      string   `toml:"severity" yaml:"severity" comment:"info/warning/critical"`
	Labels        []string `toml:"labels" yaml:"labels"`
	MinConfidence float64  `toml:"min_confidence" yaml:"min_confidence"`
	Key           string   `toml:"key" yaml:"key"`
	Value         any      `toml:"value" yaml:"value"`
	MinCount      int      `toml:"min_count" yaml:"min_count"`
	Zone          []int    `toml:"zone" yaml:"zone" comment:"[x,y,w,h]"`
}

// Alert 告警出口
type Alert struct {
	StoreDisabled bool `toml:"store_disabled" comment:"不写入数据库"`
	RetainDays    int  `toml:"retain_days" comment:"告警保留天数，0 表示永久保留"`
}

// Duration 支持 "10s" 形式的配置
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
