package server

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/zerog-bots/internal/ledger"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// startLedgerService 在 bufconn 上啟動服務，回傳連線
func startLedgerService(t *testing.T, l ledger.Ledger) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Serve(ctx, lis, l)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return conn
}

func newRemote(t *testing.T) *RemoteLedger {
	t.Helper()
	fl := ledger.NewFileLedger(filepath.Join(t.TempDir(), "referral_codes.txt"))
	return NewRemoteLedger(startLedgerService(t, fl))
}

// TestRemoteLedgerOperations 遠端帳本行為與本地帳本一致
func TestRemoteLedgerOperations(t *testing.T) {
	r := newRemote(t)
	ctx := context.Background()

	_, found, err := r.AcquireCode(ctx, 3)
	require.NoError(t, err)
	assert.False(t, found)

	added, err := r.AddNewCode(ctx, "0xAAA", "codeA")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.AddNewCode(ctx, "0xBBB", "codeA")
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, r.RecordUsage(ctx, "codeA"))

	code, found, err := r.AcquireCode(ctx, 3)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "codeA", code)

	_, found, err = r.AcquireCode(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	records, err := r.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ReferralRecord{{Wallet: "0xAAA", Code: "codeA", Invites: 1}}, records)
}

// TestRemoteLedgerErrors 錯誤經過 gRPC 後仍可用 errors.Is 判斷
func TestRemoteLedgerErrors(t *testing.T) {
	r := newRemote(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.RecordUsage(ctx, "missing"), ledger.ErrCodeNotFound)

	_, err := r.AddNewCode(ctx, "0xAAA", "bad:code")
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
}

func TestRemoteLedgerConcurrentUsage(t *testing.T) {
	r := newRemote(t)
	ctx := context.Background()
	_, err := r.AddNewCode(ctx, "0xAAA", "codeA")
	require.NoError(t, err)

	const m = 25
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RecordUsage(ctx, "codeA"))
		}()
	}
	wg.Wait()

	records, err := r.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, m, records[0].Invites)
}

func TestHealthService(t *testing.T) {
	conn := startLedgerService(t, ledger.NewFileLedger(filepath.Join(t.TempDir(), "l.txt")))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
