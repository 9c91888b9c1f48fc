package scheduler

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestSkippedTickCounter(t *testing.T) {
	f := newFixture(t)
	f.gateway.blockCh = make(chan struct{})
	f.seedMaturedEscrow(t, "esc-1")

	before := counterValue(t)

	done := make(chan struct{})
	go func() {
		f.runner.Run(context.Background())
		close(done)
	}()
	for !f.runner.inFlight.Load() {
		time.Sleep(time.Millisecond)
	}

	f.runner.Run(context.Background()) // skipped
	close(f.gateway.blockCh)
	<-done

	if got := counterValue(t); got != before+1 {
		t.Errorf("skipped ticks = %f, want %f", got, before+1)
	}
}

func counterValue(t *testing.T) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := ticksSkipped.Write(m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.Counter.GetValue()
}
