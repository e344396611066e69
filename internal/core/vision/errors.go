package vision

import (
	"errors"
	"fmt"
)

// 流水线错误分类，各阶段通过 fmt.Errorf("%w") 包装，调用方用 errors.Is 判断
var (
	// ErrConfiguration 配置错误，启动前致命
	ErrConfiguration = errors.New("configuration error")
	// ErrConnection 无法打开设备或地址
	ErrConnection = errors.New("connection error")
	// ErrStreamLost 读取失败重试耗尽
	ErrStreamLost = errors.New("stream lost")
	// ErrModelLoad 模型加载失败，构造时致命
	ErrModelLoad = errors.New("model load error")
	// ErrInference 单帧推理失败，丢帧后继续
	ErrInference = errors.New("inference error")
	// ErrBudgetExceeded 推理超出单帧时间预算
	ErrBudgetExceeded = fmt.Errorf("%w: latency budget exceeded", ErrInference)
	// ErrAnalysis 单帧规则评估失败
	ErrAnalysis = errors.New("analysis error")
	// ErrDetectionsSealed 帧已写入过检测结果
	ErrDetectionsSealed = errors.New("detections already set")
)
