// ============================================================================
// zerog-bots Ledger Service - 以 gRPC 共用推薦碼帳本
// ============================================================================
//
// Package: internal/server
// 文件: ledger_service.go
// 功能: 讓多個 bot 行程透過一個 serve-ledger 行程共用同一份帳本
//
// 服務: zerog.ledger.v1.LedgerService
//
//	AcquireCode  Int64Value(max)          -> Struct{code, found}
//	RecordUsage  StringValue(code)        -> Empty
//	AddNewCode   Struct{wallet, code}     -> BoolValue(added)
//	ListRecords  Empty                    -> ListValue[Struct{wallet, code, invites}]
//
// 訊息全部使用 protobuf well-known types，不需要額外的 .proto 產生碼。
//
// ============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ChuLiYu/zerog-bots/internal/ledger"
)

const serviceName = "zerog.ledger.v1.LedgerService"

// LedgerServer gRPC 服務端介面
type LedgerServer interface {
	AcquireCode(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	RecordUsage(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	AddNewCode(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	ListRecords(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// LedgerService 將 ledger.Ledger 暴露為 gRPC 服務
type LedgerService struct {
	ledger ledger.Ledger
}

// NewLedgerService 建立服務
func NewLedgerService(l ledger.Ledger) *LedgerService {
	return &LedgerService{ledger: l}
}

func (s *LedgerService) AcquireCode(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	code, found, err := s.ledger.AcquireCode(ctx, int(req.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"code":  code,
		"found": found,
	})
}

func (s *LedgerService) RecordUsage(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.ledger.RecordUsage(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *LedgerService) AddNewCode(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	fields := req.GetFields()
	added, err := s.ledger.AddNewCode(ctx, fields["wallet"].GetStringValue(), fields["code"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(added), nil
}

func (s *LedgerService) ListRecords(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	records, err := s.ledger.Records(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		values = append(values, map[string]interface{}{
			"wallet":  r.Wallet,
			"code":    r.Code,
			"invites": r.Invites,
		})
	}
	return structpb.NewList(values)
}

// toStatus 將帳本錯誤轉為 gRPC status；客戶端依 code 還原成 sentinel
func toStatus(err error) error {
	switch {
	case errors.Is(err, ledger.ErrCodeNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidRecord):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrMalformedLedger):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ============================================================================
// Service descriptor
// ============================================================================

// LedgerServiceDesc grpc.ServiceDesc，手寫對應上面四個方法
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AcquireCode", Handler: acquireCodeHandler},
		{MethodName: "RecordUsage", Handler: recordUsageHandler},
		{MethodName: "AddNewCode", Handler: addNewCodeHandler},
		{MethodName: "ListRecords", Handler: listRecordsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zerog/ledger/v1/ledger.proto",
}

// RegisterLedgerServer 註冊服務
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func acquireCodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).AcquireCode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("AcquireCode")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).AcquireCode(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func recordUsageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).RecordUsage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("RecordUsage")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).RecordUsage(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func addNewCodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).AddNewCode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("AddNewCode")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).AddNewCode(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listRecordsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).ListRecords(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ListRecords")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).ListRecords(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ============================================================================
// Server 生命週期
// ============================================================================

// NewGRPCServer 建立已註冊帳本服務與 health 服務的 grpc.Server
func NewGRPCServer(l ledger.Ledger) *grpc.Server {
	srv := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor))
	RegisterLedgerServer(srv, NewLedgerService(l))

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

// Serve 在 lis 上提供服務直到 ctx 取消，之後 GracefulStop
func Serve(ctx context.Context, lis net.Listener, l ledger.Ledger) error {
	srv := NewGRPCServer(l)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("ledger service listening")
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("ledger service shutting down")
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("ledger service failed: %w", err)
		}
		return nil
	}
}

func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("method", info.FullMethod).Dur("elapsed", time.Since(start)).Msg("ledger rpc")
	return resp, err
}
