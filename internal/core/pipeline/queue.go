package pipeline

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueClosed 上游已关闭且队列已取空
	ErrQueueClosed = errors.New("queue closed")
	// ErrDequeueTimeout 等待超时，队列仍然可用
	ErrDequeueTimeout = errors.New("dequeue timeout")
)

// Queue 有界 FIFO，每条边单生产者单消费者
// 只能由生产者调用 Close，关闭后消费者仍可取完剩余元素
type Queue[T any] struct {
	ch chan T
}

// NewQueue capacity 至少为 1
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, max(capacity, 1))}
}

// Put 队列满时阻塞，形成背压
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushDropOldest 不阻塞，队列满时丢弃最旧的元素，返回丢弃数量
func (q *Queue[T]) PushDropOldest(v T) (dropped int) {
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped++
		default:
		}
	}
}

// Get 最多等待 timeout
func (q *Queue[T]) Get(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	// 优先取已有元素
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return v, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, ErrDequeueTimeout
	}
}

// Close 生产者不再写入
func (q *Queue[T]) Close() {
	close(q.ch)
}

func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) Cap() int { return cap(q.ch) }
