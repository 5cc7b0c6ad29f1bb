package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the operator API.
const ServiceName = "mirador.netops.v1.Operator"

// Operator method names.
const (
	MethodRunDevice         = "RunDevice"
	MethodListAlerts        = "ListAlerts"
	MethodAcknowledgeAlerts = "AcknowledgeAlerts"
	MethodResolveAlert      = "ResolveAlert"
	MethodEscalateAlert     = "EscalateAlert"
	MethodSuppressAlert     = "SuppressAlert"
	MethodAlertHistory      = "AlertHistory"
	MethodListIncidents     = "ListIncidents"
	MethodGetIncident       = "GetIncident"
	MethodListRuns          = "ListRuns"
	MethodGetRun            = "GetRun"
	MethodListHotspots      = "ListHotspots"
	MethodDeviceMetrics     = "DeviceMetrics"
	MethodDeviceStates      = "DeviceStates"
	MethodHealth            = "Health"
	MethodGroupHealth       = "GroupHealth"
)

// OperatorServer is the server API of the operator service. Payloads are
// structpb.Struct values carrying the JSON form of the request and response types in
// this package.
type OperatorServer interface {
	RunDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcknowledgeAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EscalateAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SuppressAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AlertHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListHotspots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeviceMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeviceStates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GroupHealth(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedOperatorServer can be embedded to satisfy OperatorServer.
type UnimplementedOperatorServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedOperatorServer) RunDevice(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodRunDevice)
}
func (UnimplementedOperatorServer) ListAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListAlerts)
}
func (UnimplementedOperatorServer) AcknowledgeAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodAcknowledgeAlerts)
}
func (UnimplementedOperatorServer) ResolveAlert(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodResolveAlert)
}
func (UnimplementedOperatorServer) EscalateAlert(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodEscalateAlert)
}
func (UnimplementedOperatorServer) SuppressAlert(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodSuppressAlert)
}
func (UnimplementedOperatorServer) AlertHistory(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodAlertHistory)
}
func (UnimplementedOperatorServer) ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListIncidents)
}
func (UnimplementedOperatorServer) GetIncident(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodGetIncident)
}
func (UnimplementedOperatorServer) ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListRuns)
}
func (UnimplementedOperatorServer) GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodGetRun)
}
func (UnimplementedOperatorServer) ListHotspots(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListHotspots)
}
func (UnimplementedOperatorServer) DeviceMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodDeviceMetrics)
}
func (UnimplementedOperatorServer) DeviceStates(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodDeviceStates)
}
func (UnimplementedOperatorServer) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodHealth)
}
func (UnimplementedOperatorServer) GroupHealth(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodGroupHealth)
}

type operatorCall func(OperatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryMethod builds the method descriptor for one operator call, honouring the
// server's interceptor chain.
func unaryMethod(name string, call operatorCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OperatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OperatorServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// OperatorServiceDesc describes the operator service for grpc.ServiceRegistrar.
var OperatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OperatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodRunDevice, OperatorServer.RunDevice),
		unaryMethod(MethodListAlerts, OperatorServer.ListAlerts),
		unaryMethod(MethodAcknowledgeAlerts, OperatorServer.AcknowledgeAlerts),
		unaryMethod(MethodResolveAlert, OperatorServer.ResolveAlert),
		unaryMethod(MethodEscalateAlert, OperatorServer.EscalateAlert),
		unaryMethod(MethodSuppressAlert, OperatorServer.SuppressAlert),
		unaryMethod(MethodAlertHistory, OperatorServer.AlertHistory),
		unaryMethod(MethodListIncidents, OperatorServer.ListIncidents),
		unaryMethod(MethodGetIncident, OperatorServer.GetIncident),
		unaryMethod(MethodListRuns, OperatorServer.ListRuns),
		unaryMethod(MethodGetRun, OperatorServer.GetRun),
		unaryMethod(MethodListHotspots, OperatorServer.ListHotspots),
		unaryMethod(MethodDeviceMetrics, OperatorServer.DeviceMetrics),
		unaryMethod(MethodDeviceStates, OperatorServer.DeviceStates),
		unaryMethod(MethodHealth, OperatorServer.Health),
		unaryMethod(MethodGroupHealth, OperatorServer.GroupHealth),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/netops/v1/operator",
}

// RegisterOperatorServer registers srv on s.
func RegisterOperatorServer(s grpc.ServiceRegistrar, srv OperatorServer) {
	s.RegisterService(&OperatorServiceDesc, srv)
}

// OperatorClient calls the operator service over a client connection.
type OperatorClient struct {
	cc grpc.ClientConnInterface
}

// NewOperatorClient wraps cc.
func NewOperatorClient(cc grpc.ClientConnInterface) *OperatorClient {
	return &OperatorClient{cc: cc}
}

// Call invokes method with req encoded as a struct and decodes the reply into resp.
// resp may be nil when the caller ignores the reply.
func (c *OperatorClient) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	if req == nil {
		req = struct{}{}
	}
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return FromStruct(out, resp)
}
