// Package health exposes the pipeline's liveness over the standard gRPC
// health checking protocol so supervisors can wait for the command channel
// to come up.
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/gesture.control/internal/monitoring"
	"github.com/banshee-data/gesture.control/internal/pipeline"
)

// Service is the health service name reported for the pipeline. The empty
// service name mirrors it for clients that check overall health.
const Service = "gesture.control.Pipeline"

var logs = monitoring.NewStreams("[health] ")

// Server serves grpc.health.v1.Health. It starts NOT_SERVING and follows
// the pipeline state: SERVING only while the pipeline is Running.
type Server struct {
	addr string
	hs   *health.Server

	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

func New(addr string) *Server {
	s := &Server{addr: addr, hs: health.NewServer()}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.hs)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logs.Diagf("gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logs.Opsf("gRPC health server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.hs.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	logs.Diagf("gRPC health server stopped")
}

// SetState maps a pipeline state onto the serving status. It has the
// signature of a pipeline state listener.
func (s *Server) SetState(st pipeline.State) {
	if st == pipeline.StateRunning {
		s.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.hs.SetServingStatus(Service, status)
	s.hs.SetServingStatus("", status)
}
