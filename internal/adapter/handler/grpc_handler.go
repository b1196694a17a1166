package handler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter keeps the gRPC health service in line with consumer
// readiness. The overall status ("") and the named service move together.
type HealthReporter struct {
	server  *health.Server
	states  StateSource
	service string
	log     *logrus.Logger
	last    healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(server *health.Server, states StateSource, service string, log *logrus.Logger) *HealthReporter {
	return &HealthReporter{
		server:  server,
		states:  states,
		service: service,
		log:     log,
		last:    healthpb.HealthCheckResponse_UNKNOWN,
	}
}

// Check publishes the current status once and returns it.
func (r *HealthReporter) Check() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok, _ := ready(r.states); ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(r.service, status)
	if status != r.last {
		r.log.WithFields(logrus.Fields{"service": r.service, "status": status.String()}).Info("health status changed")
		r.last = status
	}
	return status
}

// Run checks every interval until ctx is done, then marks everything
// NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.Check()
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-ticker.C:
			r.Check()
		}
	}
}
