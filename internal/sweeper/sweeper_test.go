package sweeper

import (
	"context"
	"testing"
	"time"

	"termproxy/internal/session"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	engine := session.NewEngine(0, time.Hour)
	sw := New(engine, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
