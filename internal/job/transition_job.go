package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TransitionRefresher is the slow-cadence surface of the regime service:
// re-decode history, update the transition posterior, retrain the boosted
// classifier.
type TransitionRefresher interface {
	RefreshAllTransitions(ctx context.Context)
}

// TransitionJob runs the transition refresh once a day at a fixed UTC hour.
type TransitionJob struct {
	tracer      trace.Tracer
	service     TransitionRefresher
	refreshHour int
}

func NewTransitionJob(tracer trace.Tracer, service TransitionRefresher, refreshHourUTC int) *TransitionJob {
	if refreshHourUTC < 0 || refreshHourUTC > 23 {
		refreshHourUTC = 0
	}
	return &TransitionJob{tracer: tracer, service: service, refreshHour: refreshHourUTC}
}

func (j *TransitionJob) Start(ctx context.Context) {
	if j.service == nil {
		log.Println("Transition refresh job disabled: no service")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(time.Now().UTC(), j.refreshHour)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *TransitionJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "transition-job.run-once")
	defer span.End()

	j.service.RefreshAllTransitions(ctx)
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
