// Package metrics 流水线计数与耗时统计，通过构造参数注入各阶段
package metrics

import (
	"expvar"
	"sync"
	"time"
)

// Metrics 观测接口
type Metrics interface {
	// Add 计数器累加
	Add(name string, delta int64)
	// Observe 记录一次耗时
	Observe(name string, d time.Duration)
}

// Nop 丢弃所有数据
type Nop struct{}

func (Nop) Add(string, int64)             {}
func (Nop) Observe(string, time.Duration) {}

var _ Metrics = Nop{}

// Expvar 基于 expvar.Map，可通过 /debug/vars 查看
// 同名 Map 只发布一次，重复创建返回同一份数据
type Expvar struct {
	counters *expvar.Map
	latency  *expvar.Map
}

var publishMu sync.Mutex

// NewExpvar 以 name 为前缀发布 name.counters 与 name.latency_us
func NewExpvar(name string) *Expvar {
	return &Expvar{
		counters: publish(name + ".counters"),
		latency:  publish(name + ".latency_us"),
	}
}

func publish(name string) *expvar.Map {
	publishMu.Lock()
	defer publishMu.Unlock()
	if v, ok := expvar.Get(name).(*expvar.Map); ok {
		return v
	}
	return expvar.NewMap(name)
}

func (e *Expvar) Add(name string, delta int64) {
	e.counters.Add(name, delta)
}

// Observe 累加耗时(微秒)与次数，平均值 = name / name.count
func (e *Expvar) Observe(name string, d time.Duration) {
	e.latency.Add(name, d.Microseconds())
	e.latency.Add(name+".count", 1)
}

// Snapshot 当前计数器
func (e *Expvar) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	e.counters.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			out[kv.Key] = v.Value()
		}
	})
	return out
}

var _ Metrics = (*Expvar)(nil)
