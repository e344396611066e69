// Package rpc 远程检测模型的 gRPC 客户端与服务端
// 消息体使用 google.protobuf.Struct，无需额外生成代码
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName  = "forensight.v1.Detector"
	DetectMethod = "/" + ServiceName + "/Detect"
)

// ErrNotServing 健康检查未通过
var ErrNotServing = errors.New("detector not serving")

// DetectorClient 封装远程检测服务，实现推理阶段的检测器
type DetectorClient struct {
	conn  *grpc.ClientConn
	addr  string
	model string
}

// MaxMessageSize 单帧请求上限，1080p yuv420p 经 base64 后约 4.1MB，超出 gRPC 默认的 4MB
const MaxMessageSize = 32 << 20

// ServerOptions 检测服务端需要使用相同的消息上限
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}
}

// DialDetector 连接检测服务并做一次健康检查
func DialDetector(ctx context.Context, addr, model string, opts ...grpc.DialOption) (*DetectorClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(MaxMessageSize), grpc.MaxCallRecvMsgSize(MaxMessageSize)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	cli := &DetectorClient{conn: conn, addr: addr, model: model}
	if err := cli.Check(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return cli, nil
}

// Check 调用 grpc.health.v1，服务名为空表示整体状态
func (c *DetectorClient) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check %s: %w", c.addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s status[%s]", ErrNotServing, c.addr, resp.GetStatus())
	}
	slog.Info("HealthCheck OK", "addr", c.addr, "model", c.model)
	return nil
}

func (c *DetectorClient) Name() string {
	if c.model == "" {
		return "grpc://" + c.addr
	}
	return c.model
}

// Detect 发送帧数据，返回服务端检测结果
func (c *DetectorClient) Detect(ctx context.Context, f *vision.Frame) ([]vision.Detection, error) {
	req, err := EncodeFrame(c.model, f)
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame: %w", vision.ErrInference, err)
	}
	var resp structpb.Struct
	if err := c.conn.Invoke(ctx, DetectMethod, req, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", vision.ErrInference, DetectMethod, err)
	}
	dets, err := DecodeDetections(&resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vision.ErrInference, err)
	}
	return dets, nil
}

func (c *DetectorClient) Close() error {
	return c.conn.Close()
}
