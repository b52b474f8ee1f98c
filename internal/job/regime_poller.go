package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// RegimeClassifier is the surface of the regime service the pollers drive.
type RegimeClassifier interface {
	ClassifyAll(ctx context.Context)
	ResolveSnapshots(ctx context.Context, now time.Time) (int, error)
}

// RegimePoller runs the fast cadence of the regime pipeline: one
// classification sweep per bar and a periodic resolution pass that grades
// old predictions.
type RegimePoller struct {
	tracer           trace.Tracer
	service          RegimeClassifier
	classifyInterval time.Duration
	resolveInterval  time.Duration
}

func NewRegimePoller(tracer trace.Tracer, service RegimeClassifier, classifySecs, resolveSecs int) *RegimePoller {
	if classifySecs <= 0 {
		classifySecs = 3600
	}
	if resolveSecs <= 0 {
		resolveSecs = 1800
	}
	return &RegimePoller{
		tracer:           tracer,
		service:          service,
		classifyInterval: time.Duration(classifySecs) * time.Second,
		resolveInterval:  time.Duration(resolveSecs) * time.Second,
	}
}

// Start launches the classify and resolve loops. Blocks until ctx is
// cancelled.
func (p *RegimePoller) Start(ctx context.Context) {
	log.Println("Regime poller starting...")

	go p.classifyLoop(ctx)
	go p.resolveLoop(ctx)

	<-ctx.Done()
	log.Println("Regime poller stopped")
}

func (p *RegimePoller) classifyLoop(ctx context.Context) {
	// Give the price poller a head start so the first sweep sees candles.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Minute):
	}

	p.classifyOnce(ctx)

	ticker := time.NewTicker(p.classifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.classifyOnce(ctx)
		}
	}
}

func (p *RegimePoller) classifyOnce(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "regime-poller.classify")
	defer span.End()

	p.service.ClassifyAll(ctx)
}

func (p *RegimePoller) resolveLoop(ctx context.Context) {
	ticker := time.NewTicker(p.resolveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctx2, span := p.tracer.Start(ctx, "regime-poller.resolve")
			if _, err := p.service.ResolveSnapshots(ctx2, time.Now().UTC()); err != nil {
				log.Printf("regime resolve error: %v", err)
			}
			span.End()
		}
	}
}
