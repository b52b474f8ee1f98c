package job

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func TestNextRunUTC(t *testing.T) {
	now := time.Date(2026, 3, 10, 5, 30, 0, 0, time.UTC)

	next := nextRunUTC(now, 6)
	if !next.Equal(time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected same-day run, got %s", next)
	}

	next = nextRunUTC(now, 5)
	if !next.Equal(time.Date(2026, 3, 11, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected next-day run, got %s", next)
	}
}

func TestNewTransitionJobClampsHour(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	job := NewTransitionJob(tracer, &stubRefresher{}, 99)
	if job.refreshHour != 0 {
		t.Fatalf("expected clamped hour 0, got %d", job.refreshHour)
	}
}

func TestTransitionJobRunOnce(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	stub := &stubRefresher{}
	job := NewTransitionJob(tracer, stub, 0)

	job.runOnce(context.Background())
	if stub.calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", stub.calls)
	}
}

func TestTransitionJobWithoutServiceStops(t *testing.T) {
	t.Parallel()

	tracer := trace.NewNoopTracerProvider().Tracer("test")
	job := NewTransitionJob(tracer, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop on cancel")
	}
}

type stubRefresher struct {
	calls int
}

func (s *stubRefresher) RefreshAllTransitions(ctx context.Context) {
	s.calls++
}
