package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/ingestion"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const (
	LedgerServiceName = "tani.ledger.v1.LedgerService"

	// errorCodeTrailer carries the typed error name next to the gRPC status
	errorCodeTrailer = "tani-error-code"
)

// JSONCodec lets LedgerService speak JSON over gRPC. Clients select it with
// grpc.CallContentSubtype(JSONCodec{}.Name()); health and reflection keep
// the default protobuf codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// GetAssetRequest is the GetAsset input.
type GetAssetRequest struct {
	AssetID uint64 `json:"asset_id"`
}

// LedgerServiceServer is the contract registered under LedgerServiceName.
type LedgerServiceServer interface {
	Submit(context.Context, *ingestion.WireCommand) (any, error)
	GetAsset(context.Context, *GetAssetRequest) (any, error)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "GetAsset", Handler: getAssetHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tani/ledger/v1/ledger.proto",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ingestion.WireCommand)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + LedgerServiceName + "/Submit"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).Submit(ctx, req.(*ingestion.WireCommand))
	})
}

func getAssetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAssetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).GetAsset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + LedgerServiceName + "/GetAsset"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).GetAsset(ctx, req.(*GetAssetRequest))
	})
}

// GRPCServer wraps the gRPC server with the ledger, health and reflection
// services registered.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	deps       Deps
}

func NewGRPCServer(addr string, deps Deps) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(typedErrors))

	grpcServer.RegisterService(&ledgerServiceDesc, &ledgerServiceImpl{deps: deps})

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(LedgerServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{grpcServer: grpcServer, health: healthServer, addr: addr, deps: deps}
}

// SetServing flips the health status once recovery has finished.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(LedgerServiceName, st)
}

// Serve serves on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.deps.Logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Start listens on the configured address and serves (blocking).
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// ============================================================================
// LedgerService implementation
// ============================================================================

type ledgerServiceImpl struct {
	deps Deps
}

func (s *ledgerServiceImpl) Submit(ctx context.Context, req *ingestion.WireCommand) (any, error) {
	return s.deps.Submitter.SubmitWire(ctx, *req)
}

func (s *ledgerServiceImpl) GetAsset(ctx context.Context, req *GetAssetRequest) (any, error) {
	if req.AssetID == 0 {
		return nil, lerrors.InvalidArgument.New("asset_id is required")
	}
	return s.deps.Query.GetAsset(ctx, req.AssetID)
}

// typedErrors converts ledger errors into gRPC statuses and attaches the typed
// code name as a trailer.
func typedErrors(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	resp, err := next(ctx, req)
	if err == nil {
		return resp, nil
	}
	if _, ok := status.FromError(err); ok {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	typed := lerrors.As(err)
	grpc.SetTrailer(ctx, metadata.Pairs(errorCodeTrailer, typed.CodeName()))
	code := typed.GrpcCode()
	if code == codes.OK {
		code = codes.Internal
	}
	return nil, status.Error(code, typed.Message())
}
