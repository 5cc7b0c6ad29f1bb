package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/scheduler"
)

type stubOperator struct {
	UnimplementedOperatorServer
	lastDevice string
}

func (s *stubOperator) RunDevice(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RunDeviceRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.lastDevice = req.DeviceID
	if req.DeviceID == "busy" {
		return nil, StatusFromError(scheduler.ErrRunInFlight)
	}
	return ToStruct(models.PipelineRun{ID: "PIPE-1", DeviceID: req.DeviceID, Status: models.RunCompleted})
}

func (s *stubOperator) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return ToStruct(HealthResponse{Status: "SERVING", Devices: 2})
}

func startBufconn(t *testing.T, svc OperatorServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, svc)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestOperatorServiceOverBufconn(t *testing.T) {
	svc := &stubOperator{}
	client := NewOperatorClient(startBufconn(t, svc))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var run models.PipelineRun
	if err := client.Call(ctx, MethodRunDevice, RunDeviceRequest{DeviceID: "r1"}, &run); err != nil {
		t.Fatalf("RunDevice: %v", err)
	}
	if run.ID != "PIPE-1" || run.Status != models.RunCompleted || svc.lastDevice != "r1" {
		t.Fatalf("unexpected run: %+v", run)
	}

	err := client.Call(ctx, MethodRunDevice, RunDeviceRequest{DeviceID: "busy"}, nil)
	if status.Code(err) != codes.Aborted {
		t.Fatalf("expected Aborted, got %v", err)
	}

	var health HealthResponse
	if err := client.Call(ctx, MethodHealth, nil, &health); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "SERVING" || health.Devices != 2 {
		t.Fatalf("unexpected health: %+v", health)
	}

	err = client.Call(ctx, MethodListAlerts, ListAlertsRequest{}, nil)
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}

func TestGRPCHealthService(t *testing.T) {
	conn := startBufconn(t, &stubOperator{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}
