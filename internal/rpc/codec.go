package rpc

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/gowvp/forensight/internal/core/vision"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeFrame 请求格式
//
//	{model, source_id, seq, capture_time_ms, width, height, payload(base64)}
func EncodeFrame(model string, f *vision.Frame) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"model":           model,
		"source_id":       f.SourceID,
		"seq":             f.Seq,
		"capture_time_ms": f.CaptureTime.UnixMilli(),
		"width":           f.Width,
		"height":          f.Height,
		"payload":         f.Payload,
	})
}

// DecodeFrame 服务端解析请求，返回模型名与帧
func DecodeFrame(in *structpb.Struct) (string, *vision.Frame, error) {
	m := in.AsMap()
	model, _ := m["model"].(string)
	sourceID, _ := m["source_id"].(string)
	f := vision.Frame{
		SourceID: sourceID,
		Seq:      uint64(number(m["seq"])),
		Width:    int(number(m["width"])),
		Height:   int(number(m["height"])),
	}
	if ms := number(m["capture_time_ms"]); ms > 0 {
		f.CaptureTime = time.UnixMilli(int64(ms))
	}
	if s, ok := m["payload"].(string); ok && s != "" {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", nil, fmt.Errorf("payload: %w", err)
		}
		f.Payload = b
	}
	return model, &f, nil
}

// EncodeDetections 响应格式
//
//	{detections: [{label, confidence, box: [x,y,w,h], attributes}]}
func EncodeDetections(dets []vision.Detection) (*structpb.Struct, error) {
	list := make([]any, 0, len(dets))
	for _, d := range dets {
		item := map[string]any{
			"label":      d.Label,
			"confidence": d.Confidence,
			"box":        []any{d.Box.X, d.Box.Y, d.Box.W, d.Box.H},
		}
		if len(d.Attributes) > 0 {
			item["attributes"] = d.Attributes
		}
		list = append(list, item)
	}
	return structpb.NewStruct(map[string]any{"detections": list})
}

// DecodeDetections 客户端解析响应
func DecodeDetections(in *structpb.Struct) ([]vision.Detection, error) {
	raw, ok := in.AsMap()["detections"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("detections must be a list, got %T", raw)
	}
	out := make([]vision.Detection, 0, len(list))
	for i, v := range list {
		item, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("detections[%d] must be an object", i)
		}
		d := vision.Detection{}
		d.Label, _ = item["label"].(string)
		// 缺失的置信度交给校验拦截
		d.Confidence = math.NaN()
		if c, ok := item["confidence"].(float64); ok {
			d.Confidence = c
		}
		if box, ok := item["box"].([]any); ok {
			v := make([]int, len(box))
			for j := range box {
				v[j] = int(math.Round(number(box[j])))
			}
			b, err := vision.NewBBox(v)
			if err != nil {
				return nil, fmt.Errorf("detections[%d]: %w", i, err)
			}
			d.Box = b
		}
		if attrs, ok := item["attributes"].(map[string]any); ok {
			d.Attributes = attrs
		}
		out = append(out, d)
	}
	return out, nil
}

// number structpb 中数字统一为 float64，缺失为 0
func number(v any) float64 {
	f, _ := v.(float64)
	return f
}
