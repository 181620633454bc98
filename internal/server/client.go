package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ChuLiYu/zerog-bots/internal/ledger"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// RemoteLedger 透過 gRPC 呼叫 serve-ledger 行程，實作 ledger.Ledger
type RemoteLedger struct {
	conn grpc.ClientConnInterface
}

var _ ledger.Ledger = (*RemoteLedger)(nil)

// NewRemoteLedger 使用既有連線建立客戶端
func NewRemoteLedger(conn grpc.ClientConnInterface) *RemoteLedger {
	return &RemoteLedger{conn: conn}
}

// DialLedger 連線到 addr（明文，僅供本機或內網使用）
func DialLedger(addr string) (*RemoteLedger, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to ledger service %s: %w", addr, err)
	}
	return NewRemoteLedger(conn), conn, nil
}

func (r *RemoteLedger) AcquireCode(ctx context.Context, maxInvites int) (string, bool, error) {
	out := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, fullMethod("AcquireCode"), wrapperspb.Int64(int64(maxInvites)), out); err != nil {
		return "", false, fromStatus(err)
	}
	fields := out.GetFields()
	return fields["code"].GetStringValue(), fields["found"].GetBoolValue(), nil
}

func (r *RemoteLedger) RecordUsage(ctx context.Context, code string) error {
	if err := r.conn.Invoke(ctx, fullMethod("RecordUsage"), wrapperspb.String(code), new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (r *RemoteLedger) AddNewCode(ctx context.Context, wallet, code string) (bool, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"wallet": wallet, "code": code})
	if err != nil {
		return false, fmt.Errorf("failed to encode request: %w", err)
	}
	out := new(wrapperspb.BoolValue)
	if err := r.conn.Invoke(ctx, fullMethod("AddNewCode"), in, out); err != nil {
		return false, fromStatus(err)
	}
	return out.GetValue(), nil
}

func (r *RemoteLedger) Records(ctx context.Context) ([]types.ReferralRecord, error) {
	out := new(structpb.ListValue)
	if err := r.conn.Invoke(ctx, fullMethod("ListRecords"), &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus(err)
	}

	records := make([]types.ReferralRecord, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		fields := v.GetStructValue().GetFields()
		records = append(records, types.ReferralRecord{
			Wallet:  fields["wallet"].GetStringValue(),
			Code:    fields["code"].GetStringValue(),
			Invites: int(fields["invites"].GetNumberValue()),
		})
	}
	return records, nil
}

// fromStatus 將 gRPC status 還原為 ledger 的 sentinel 錯誤
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ledger.ErrCodeNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ledger.ErrInvalidRecord, st.Message())
	case codes.DataLoss:
		return fmt.Errorf("%w: %s", ledger.ErrMalformedLedger, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	default:
		return fmt.Errorf("ledger rpc failed: %w", err)
	}
}
