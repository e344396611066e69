package pipeline

import (
	"errors"

	"github.com/gowvp/forensight/internal/core/vision"
)

// ExitStatus 流水线退出状态，Code 作为进程退出码
type ExitStatus int

const (
	ExitNormal           ExitStatus = iota // 正常停止或流结束
	ExitConfigError                        // 配置错误
	ExitStreamLost                         // 视频源断开或无法连接
	ExitFailureThreshold                   // 连续失败帧数超过阈值
)

func (s ExitStatus) String() string {
	switch s {
	case ExitNormal:
		return "normal"
	case ExitConfigError:
		return "config_error"
	case ExitStreamLost:
		return "stream_lost"
	case ExitFailureThreshold:
		return "failure_threshold"
	}
	return "unknown"
}

func (s ExitStatus) Code() int {
	return int(s)
}

// Result Run 的返回值，Err 为导致退出的最后一个错误
type Result struct {
	Status ExitStatus
	Err    error
}

// StatusOf 按错误分类得到退出状态
func StatusOf(err error) ExitStatus {
	switch {
	case err == nil:
		return ExitNormal
	case errors.Is(err, vision.ErrConfiguration), errors.Is(err, vision.ErrModelLoad):
		return ExitConfigError
	case errors.Is(err, vision.ErrConnection), errors.Is(err, vision.ErrStreamLost):
		return ExitStreamLost
	}
	return ExitFailureThreshold
}
