package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gowvp/forensight/internal/core/source"
	"github.com/gowvp/forensight/internal/core/vision"
)

type fakeSource struct {
	frames   int
	live     bool
	endErr   error
	startErr error

	seq      uint64
	base     time.Time
	stops    atomic.Int32
	ended    chan struct{}
	endOnce  sync.Once
	interval time.Duration
}

func newFakeSource(frames int) *fakeSource {
	return &fakeSource{frames: frames, base: time.Now(), ended: make(chan struct{})}
}

func (s *fakeSource) ID() string { return "fake" }

func (s *fakeSource) Start(context.Context) error { return s.startErr }

func (s *fakeSource) Read(ctx context.Context, timeout time.Duration) (*vision.Frame, source.ReadStatus, error) {
	if s.interval > 0 {
		select {
		case <-ctx.Done():
			return nil, source.ReadGap, ctx.Err()
		case <-time.After(s.interval):
		}
	}
	if s.frames > 0 && int(s.seq) >= s.frames {
		s.endOnce.Do(func() { close(s.ended) })
		if s.live {
			select {
			case <-ctx.Done():
				return nil, source.ReadGap, ctx.Err()
			case <-time.After(timeout):
				return nil, source.ReadGap, nil
			}
		}
		return nil, source.ReadEOS, s.endErr
	}
	s.seq++
	return &vision.Frame{
		SourceID:    "fake",
		Seq:         s.seq,
		CaptureTime: s.base.Add(time.Duration(s.seq) * time.Millisecond),
	}, source.ReadOK, nil
}

func (s *fakeSource) Stop() error {
	s.stops.Add(1)
	return nil
}

type inferFunc func(ctx context.Context, f *vision.Frame) (*vision.Frame, error)

func (fn inferFunc) Process(ctx context.Context, f *vision.Frame) (*vision.Frame, error) {
	return fn(ctx, f)
}
func (inferFunc) Budget() time.Duration { return time.Second }

func annotate(_ context.Context, f *vision.Frame) (*vision.Frame, error) {
	return f.WithDetections([]vision.Detection{{Label: "person", Confidence: 0.9}})
}

// eachFrame 每帧一个告警
type eachFrame struct{}

func (eachFrame) Process(_ context.Context, f *vision.Frame) ([]vision.AlertEvent, error) {
	dets := f.Detections()
	return []vision.AlertEvent{{
		Kind:        vision.AlertObjectDetected,
		SourceID:    f.SourceID,
		FrameSeq:    f.Seq,
		CaptureTime: f.CaptureTime,
		Trigger:     &dets[0],
	}}, nil
}

type recordSink struct {
	mu     sync.Mutex
	events []vision.AlertEvent
	delay  time.Duration
	err    error
}

func (s *recordSink) Emit(ctx context.Context, ev vision.AlertEvent) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordSink) seqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.FrameSeq
	}
	return out
}

func testConfig() Config {
	return Config{
		IngestCapacity:   16,
		QueueCapacity:    2,
		ReadTimeout:      50 * time.Millisecond,
		DequeueTimeout:   20 * time.Millisecond,
		EmitTimeout:      time.Second,
		Grace:            time.Second,
		FailureThreshold: 3,
	}
}

func run(t *testing.T, cfg Config, st Stages) (*Pipeline, Result) {
	t.Helper()
	p, err := New(cfg, st, Options{})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan Result, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case res := <-done:
		return p, res
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
	return nil, Result{}
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue[int](2)
	var dropped int
	for i := 1; i <= 10; i++ {
		dropped += q.PushDropOldest(i)
	}
	if q.Len() != 2 || dropped != 8 {
		t.Fatalf("len = %d dropped = %d", q.Len(), dropped)
	}
	for _, want := range []int{9, 10} {
		got, err := q.Get(context.Background(), time.Millisecond)
		if err != nil || got != want {
			t.Fatalf("Get() = %d, %v, want %d", got, err, want)
		}
	}
	if _, err := q.Get(context.Background(), time.Millisecond); !errors.Is(err, ErrDequeueTimeout) {
		t.Fatalf("expect timeout, got %v", err)
	}
}

func TestQueueBlocksWithoutLoss(t *testing.T) {
	q := NewQueue[int](2)
	go func() {
		defer q.Close()
		for i := 1; i <= 10; i++ {
			if err := q.Put(context.Background(), i); err != nil {
				return
			}
		}
	}()

	var got []int
	for {
		time.Sleep(2 * time.Millisecond)
		v, err := q.Get(context.Background(), time.Second)
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if q.Len() > q.Cap() {
			t.Fatal("queue over capacity")
		}
		got = append(got, v)
	}
	if len(got) != 10 {
		t.Fatalf("got %v", got)
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("order broken: %v", got)
		}
	}
}

func TestQueuePutCancelled(t *testing.T) {
	q := NewQueue[int](1)
	_ = q.Put(context.Background(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline, got %v", err)
	}
}

func TestBackpressureNoLoss(t *testing.T) {
	src := newFakeSource(10)
	sink := &recordSink{delay: 5 * time.Millisecond}
	p, res := run(t, testConfig(), Stages{Source: src, Inference: inferFunc(annotate), Analysis: eachFrame{}, Sink: sink})

	if res.Status != ExitNormal || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	seqs := sink.seqs()
	if len(seqs) != 10 {
		t.Fatalf("frames lost on internal edges: %v", seqs)
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("alerts out of order: %v", seqs)
		}
	}
	sink.mu.Lock()
	for i := 1; i < len(sink.events); i++ {
		if sink.events[i].CaptureTime.Before(sink.events[i-1].CaptureTime) {
			t.Fatal("capture time decreased")
		}
	}
	sink.mu.Unlock()
	if src.stops.Load() != 1 {
		t.Fatalf("source stopped %d times", src.stops.Load())
	}
	if s := p.Stats(); s.Dropped != 0 || s.Alerts != 10 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestIngestDropOldestKeepsLatest(t *testing.T) {
	src := newFakeSource(10)
	infer := inferFunc(func(ctx context.Context, f *vision.Frame) (*vision.Frame, error) {
		select {
		case <-src.ended:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return annotate(ctx, f)
	})
	cfg := testConfig()
	cfg.IngestCapacity = 2
	sink := &recordSink{}
	p, res := run(t, cfg, Stages{Source: src, Inference: infer, Analysis: eachFrame{}, Sink: sink})

	if res.Status != ExitNormal {
		t.Fatalf("result = %+v", res)
	}
	seqs := sink.seqs()
	if len(seqs) == 0 || len(seqs) > cfg.IngestCapacity+1 {
		t.Fatalf("processed %v", seqs)
	}
	if seqs[len(seqs)-1] != 10 {
		t.Fatalf("final frame must be retained: %v", seqs)
	}
	if s := p.Stats(); s.Captured != 10 || s.Dropped != uint64(10-len(seqs)) {
		t.Fatalf("stats = %+v", s)
	}
}

func TestStopWithStalledStage(t *testing.T) {
	src := newFakeSource(0)
	src.interval = time.Millisecond
	stalled := inferFunc(func(ctx context.Context, _ *vision.Frame) (*vision.Frame, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig()
	cfg.Grace = 30 * time.Millisecond
	cfg.DequeueTimeout = 20 * time.Millisecond
	p, err := New(cfg, Stages{Source: src, Inference: stalled, Analysis: eachFrame{}, Sink: &recordSink{}}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	done := p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	p.Stop()
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("stop took %v", d)
	}
	if res := <-done; res.Status != ExitNormal {
		t.Fatalf("result = %+v", res)
	}
	p.Stop()
	if src.stops.Load() != 1 {
		t.Fatalf("source stopped %d times", src.stops.Load())
	}
}

func TestStreamLost(t *testing.T) {
	src := newFakeSource(3)
	src.endErr = fmt.Errorf("%w: retries exhausted", vision.ErrStreamLost)
	sink := &recordSink{}
	_, res := run(t, testConfig(), Stages{Source: src, Inference: inferFunc(annotate), Analysis: eachFrame{}, Sink: sink})

	if res.Status != ExitStreamLost || !errors.Is(res.Err, vision.ErrStreamLost) {
		t.Fatalf("result = %+v", res)
	}
	if res.Status.Code() != 2 {
		t.Fatalf("code = %d", res.Status.Code())
	}
	// 在途帧仍然处理完
	if len(sink.seqs()) != 3 {
		t.Fatalf("in-flight frames not drained: %v", sink.seqs())
	}
}

func TestStartFailure(t *testing.T) {
	src := newFakeSource(3)
	src.startErr = fmt.Errorf("%w: dial tcp: refused", vision.ErrConnection)
	_, res := run(t, testConfig(), Stages{Source: src, Inference: inferFunc(annotate), Analysis: eachFrame{}, Sink: &recordSink{}})
	if res.Status != ExitStreamLost || !errors.Is(res.Err, vision.ErrConnection) {
		t.Fatalf("result = %+v", res)
	}
	if src.stops.Load() != 1 {
		t.Fatalf("source stopped %d times", src.stops.Load())
	}
}

func TestFailureThreshold(t *testing.T) {
	src := newFakeSource(0)
	src.interval = time.Millisecond
	broken := inferFunc(func(context.Context, *vision.Frame) (*vision.Frame, error) {
		return nil, fmt.Errorf("%w: model crashed", vision.ErrInference)
	})
	p, res := run(t, testConfig(), Stages{Source: src, Inference: broken, Analysis: eachFrame{}, Sink: &recordSink{}})

	if res.Status != ExitFailureThreshold || !errors.Is(res.Err, vision.ErrInference) {
		t.Fatalf("result = %+v", res)
	}
	if p.Stats().InferenceFailed < 3 {
		t.Fatalf("stats = %+v", p.Stats())
	}
}

func TestBudgetSkipDoesNotHalt(t *testing.T) {
	src := newFakeSource(10)
	overBudget := inferFunc(func(_ context.Context, f *vision.Frame) (*vision.Frame, error) {
		return nil, fmt.Errorf("%w: seq[%d]", vision.ErrBudgetExceeded, f.Seq)
	})
	p, res := run(t, testConfig(), Stages{Source: src, Inference: overBudget, Analysis: eachFrame{}, Sink: &recordSink{}})

	if res.Status != ExitNormal {
		t.Fatalf("result = %+v", res)
	}
	if st := p.Stats(); st.Skipped != 10 || st.InferenceFailed != 0 || st.Inferred != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRunEndsOnContextCancel(t *testing.T) {
	src := newFakeSource(0)
	src.interval = time.Millisecond
	sink := &recordSink{}
	p, err := New(testConfig(), Stages{Source: src, Inference: inferFunc(annotate), Analysis: eachFrame{}, Sink: sink}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := p.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if res.Status != ExitNormal || res.Err != nil {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
	if p.Running() || src.stops.Load() != 1 {
		t.Fatalf("running %v, source stopped %d times", p.Running(), src.stops.Load())
	}
	// 取消前采集的帧全部排空到出口
	st := p.Stats()
	if st.Captured == 0 || uint64(len(sink.seqs())) != st.Captured-st.Dropped {
		t.Fatalf("stats = %+v, emitted %d", st, len(sink.seqs()))
	}
	p.Stop()
}

func TestInferenceErrorRecovers(t *testing.T) {
	src := newFakeSource(6)
	flaky := inferFunc(func(ctx context.Context, f *vision.Frame) (*vision.Frame, error) {
		if f.Seq%2 == 0 {
			return nil, fmt.Errorf("%w: bad frame", vision.ErrInference)
		}
		return annotate(ctx, f)
	})
	sink := &recordSink{}
	p, res := run(t, testConfig(), Stages{Source: src, Inference: flaky, Analysis: eachFrame{}, Sink: sink})
	if res.Status != ExitNormal {
		t.Fatalf("result = %+v", res)
	}
	if got := sink.seqs(); len(got) != 3 || got[2] != 5 {
		t.Fatalf("seqs = %v", got)
	}
	if p.Stats().InferenceFailed != 3 {
		t.Fatalf("stats = %+v", p.Stats())
	}
}

func TestSinkErrorDoesNotHalt(t *testing.T) {
	sink := &recordSink{err: errors.New("webhook down")}
	p, res := run(t, testConfig(), Stages{Source: newFakeSource(5), Inference: inferFunc(annotate), Analysis: eachFrame{}, Sink: sink})
	if res.Status != ExitNormal {
		t.Fatalf("result = %+v", res)
	}
	if s := p.Stats(); s.AlertsFailed != 5 || s.Alerts != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 0
	if _, err := New(cfg, Stages{}, Options{}); !errors.Is(err, vision.ErrConfiguration) {
		t.Fatalf("expect ErrConfiguration, got %v", err)
	}
	if _, err := New(DefaultConfig(), Stages{}, Options{}); !errors.Is(err, vision.ErrConfiguration) {
		t.Fatalf("missing stages: %v", err)
	}
	if StatusOf(fmt.Errorf("x: %w", vision.ErrModelLoad)).Code() != 1 {
		t.Fatal("model load maps to config error")
	}
}
