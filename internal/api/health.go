package api

import (
	"context"

	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/status"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter mirrors the push connection into the gRPC health service.
// The control service reports SERVING only while the push socket is connected;
// the overall server ("") stays SERVING while the daemon runs.
type HealthReporter struct {
	server  *health.Server
	bus     *bus.Bus
	machine *status.Machine

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthReporter creates a reporter for hs.
func NewHealthReporter(hs *health.Server, b *bus.Bus, m *status.Machine) *HealthReporter {
	return &HealthReporter{server: hs, bus: b, machine: m}
}

// Start sets the initial status and follows connection changes.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.Subscribe("conn.", 16)
	h.set(h.machine.Current())

	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if sc, ok := evt.Payload.(status.StatusChange); ok {
					h.set(sc.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and marks everything NOT_SERVING.
func (h *HealthReporter) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.server.Shutdown()
}

func (h *HealthReporter) set(s status.State) {
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if s == status.Connected {
		h.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		return
	}
	h.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}
