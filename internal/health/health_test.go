package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/gesture.control/internal/pipeline"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	s := New("127.0.0.1:0")
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServingFollowsPipelineState(t *testing.T) {
	s, c := startServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service), "not serving before connect")

	s.SetState(pipeline.StateConnecting)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service))

	s.SetState(pipeline.StateRunning)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, Service))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))

	s.SetState(pipeline.StateFailed)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service))
}

func TestStartTwice(t *testing.T) {
	s, _ := startServer(t)
	assert.Error(t, s.Start())
}

func TestStopIdempotent(t *testing.T) {
	s := New("127.0.0.1:0")
	s.Stop() // never started
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
}

func TestStartBadAddress(t *testing.T) {
	s := New("256.0.0.1:bad")
	assert.Error(t, s.Start())
}
