package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (p *fakePinger) Ping(context.Context) error {
	p.calls.Add(1)
	if p.fail.Load() {
		return errors.New("redis: connection refused")
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestServer_CheckReflectsPinger(t *testing.T) {
	p := &fakePinger{}
	s := NewServer(p, time.Second, clockwork.NewFakeClock(), discardLogger())

	if got := s.Check(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", got)
	}
	if got := status(t, s, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected service SERVING, got %v", got)
	}

	p.fail.Store(true)
	s.Check(context.Background())
	if got := status(t, s, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING, got %v", got)
	}
}

func TestServer_MonitorRechecksOnTick(t *testing.T) {
	p := &fakePinger{}
	clock := clockwork.NewFakeClock()
	s := NewServer(p, 10*time.Second, clock, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Monitor(ctx)
		close(done)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	p.fail.Store(true)
	clock.Advance(10 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for status(t, s, ServiceName) != healthpb.HealthCheckResponse_NOT_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("Expected status to flip after tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if p.calls.Load() < 2 {
		t.Errorf("Expected at least 2 pings, got %d", p.calls.Load())
	}
}

func TestServer_NilPingerServes(t *testing.T) {
	s := NewServer(nil, 0, nil, nil)
	if got := s.Check(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING without dependency, got %v", got)
	}
}
