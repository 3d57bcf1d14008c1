package api

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/status"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func waitServing(t *testing.T, hs *health.Server, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err == nil && resp.GetStatus() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("health status = %v (err %v), want %v", resp.GetStatus(), err, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthFollowsConnection(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	hs := health.NewServer()
	r := NewHealthReporter(hs, b, m)
	r.Start(context.Background())
	defer r.Stop()

	waitServing(t, hs, healthpb.HealthCheckResponse_NOT_SERVING)

	if err := m.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(status.Connected); err != nil {
		t.Fatal(err)
	}
	waitServing(t, hs, healthpb.HealthCheckResponse_SERVING)

	if err := m.Transition(status.Reconnecting); err != nil {
		t.Fatal(err)
	}
	waitServing(t, hs, healthpb.HealthCheckResponse_NOT_SERVING)
}
