package monitor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/facecap/internal/mocap/network"
	"github.com/banshee-data/facecap/internal/monitoring"
)

// ReceiverService is the gRPC health service name that tracks the receiver.
const ReceiverService = "facecap.receiver"

// HealthReporter serves the standard gRPC health protocol. ReceiverService is
// SERVING while the receiver is running and has accepted data.
type HealthReporter struct {
	src      ConnectionSource
	interval time.Duration
	health   *health.Server

	mu      sync.Mutex
	server  *grpc.Server
	stop    chan struct{}
	running atomic.Bool
	last    atomic.Int32
	wg      sync.WaitGroup
}

// NewHealthReporter polls src every interval once started.
func NewHealthReporter(src ConnectionSource, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = time.Second
	}
	h := &HealthReporter{src: src, interval: interval, health: health.NewServer()}
	h.last.Store(int32(healthpb.HealthCheckResponse_UNKNOWN))
	h.Update()
	return h
}

// Status computes the receiver serving status.
func (h *HealthReporter) Status() healthpb.HealthCheckResponse_ServingStatus {
	if h.src == nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	c := h.src.Connection()
	if c == nil || !c.Running() || !c.Connected() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Update publishes the current status and logs transitions.
func (h *HealthReporter) Update() healthpb.HealthCheckResponse_ServingStatus {
	st := h.Status()
	if prev := h.last.Swap(int32(st)); prev != int32(st) {
		monitoring.Logf("[health] %s: %s -> %s", ReceiverService,
			healthpb.HealthCheckResponse_ServingStatus(prev), st)
	}
	h.health.SetServingStatus(ReceiverService, st)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return st
}

// Start listens on addr and serves health checks until ctx is done or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context, addr string) error {
	monitoring.Logf("[health] Attempting to bind to %s...", addr)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return h.Serve(ctx, lis)
}

// Serve serves on lis in the background.
func (h *HealthReporter) Serve(ctx context.Context, lis net.Listener) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running.CompareAndSwap(false, true) {
		lis.Close()
		return fmt.Errorf("health server already running")
	}

	h.health.Resume()
	h.Update()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)
	stop := make(chan struct{})
	h.server = srv
	h.stop = stop

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		monitoring.Logf("[health] gRPC health listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && h.running.Load() {
			monitoring.Logf("[health] gRPC server error: %v", err)
		}
	}()
	go func() {
		defer h.wg.Done()
		h.watch(ctx, stop)
	}()
	return nil
}

func (h *HealthReporter) watch(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			go h.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			h.Update()
		}
	}
}

// Stop marks every service NOT_SERVING and stops the gRPC server.
func (h *HealthReporter) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	h.health.Shutdown()
	h.mu.Lock()
	srv := h.server
	close(h.stop)
	h.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	h.wg.Wait()
	monitoring.Logf("[health] gRPC server stopped")
}

var _ ConnectionSource = (*network.Receiver)(nil)
