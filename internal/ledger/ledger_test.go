package ledger

// ============================================================================
// Referral Ledger 測試檔案
// 職責：驗證檔案格式穩定、並發遞增不遺失、上限判斷與 Redis 後端
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

const sampleLedger = "0xAAA:codeA:3\n0xBBB:codeB:0\n0xCCC:codeC:1\n"

func writeLedger(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "referral_codes.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ============================================================================
// 格式
// ============================================================================

// TestRoundTrip 寫入 -> 重新載入 -> 再序列化，內容逐位元組相同
func TestRoundTrip(t *testing.T) {
	records, err := Parse([]byte(sampleLedger))
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, sampleLedger, string(Format(records)))

	again, err := Parse(Format(records))
	require.NoError(t, err)
	assert.Equal(t, records, again)
}

// TestFileRoundTrip 經過一次不改變內容的寫回後檔案內容不變
func TestFileRoundTrip(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	l := NewFileLedger(path)
	ctx := context.Background()

	added, err := l.AddNewCode(ctx, "0xDDD", "codeD")
	require.NoError(t, err)
	require.True(t, added)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleLedger+"0xDDD:codeD:0\n", string(got))

	records, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(got), string(Format(records)))
}

func TestParseSkipsBlankLines(t *testing.T) {
	records, err := Parse([]byte("\n0xAAA:codeA:1\n\n  \n"))
	require.NoError(t, err)
	assert.Equal(t, []types.ReferralRecord{{Wallet: "0xAAA", Code: "codeA", Invites: 1}}, records)
}

func TestParseMalformed(t *testing.T) {
	bad := []string{
		"0xAAA:codeA\n",
		"0xAAA:codeA:x\n",
		"0xAAA:codeA:-1\n",
		":codeA:1\n",
		"0xAAA:codeA:1:extra\n",
		"0xAAA:codeA:1\n0xAAA:codeA:2\n",
	}
	for _, content := range bad {
		_, err := Parse([]byte(content))
		assert.ErrorIs(t, err, ErrMalformedLedger, content)
	}
}

// ============================================================================
// FileLedger
// ============================================================================

func TestFileLedgerMissingFileIsEmpty(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), "none", "ledger.txt"))
	ctx := context.Background()

	code, ok, err := l.AcquireCode(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, code)

	added, err := l.AddNewCode(ctx, "0xAAA", "first")
	require.NoError(t, err)
	assert.True(t, added)

	records, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestAcquireCodeCeiling AcquireCode 不會回傳 invites >= 上限的推薦碼
func TestAcquireCodeCeiling(t *testing.T) {
	l := NewFileLedger(writeLedger(t, sampleLedger))
	ctx := context.Background()

	code, ok, err := l.AcquireCode(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "codeA", code, "first record below the ceiling wins")

	code, ok, err = l.AcquireCode(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "codeB", code, "codeA is at the ceiling")

	_, ok, err = l.AcquireCode(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok, "nothing is below a zero ceiling")

	for max := 0; max <= 4; max++ {
		code, ok, err := l.AcquireCode(ctx, max)
		require.NoError(t, err)
		if !ok {
			continue
		}
		records, _ := l.Records(ctx)
		for _, r := range records {
			if r.Code == code {
				assert.Less(t, r.Invites, max)
			}
		}
	}
}

// TestAcquireDoesNotIncrement 只有 RecordUsage 會遞增
func TestAcquireDoesNotIncrement(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	l := NewFileLedger(path)

	for i := 0; i < 3; i++ {
		_, _, err := l.AcquireCode(context.Background(), 10)
		require.NoError(t, err)
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleLedger, string(got))
}

func TestRecordUsage(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	l := NewFileLedger(path)
	ctx := context.Background()

	require.NoError(t, l.RecordUsage(ctx, "codeB"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0xAAA:codeA:3\n0xBBB:codeB:1\n0xCCC:codeC:1\n", string(got))

	err = l.RecordUsage(ctx, "missing")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

// TestConcurrentRecordUsage M 個並發呼叫後次數恰好增加 M
func TestConcurrentRecordUsage(t *testing.T) {
	l := NewFileLedger(writeLedger(t, sampleLedger))
	ctx := context.Background()
	const m = 50

	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.RecordUsage(ctx, "codeC"))
		}()
	}
	wg.Wait()

	records, err := l.Records(ctx)
	require.NoError(t, err)
	for _, r := range records {
		if r.Code == "codeC" {
			assert.Equal(t, 1+m, r.Invites)
		}
	}
}

// TestConcurrentAddNewCode 同一推薦碼並發新增只會寫入一次
func TestConcurrentAddNewCode(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), "ledger.txt"))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	addedCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			added, err := l.AddNewCode(ctx, fmt.Sprintf("0x%02d", i), "shared")
			assert.NoError(t, err)
			if added {
				mu.Lock()
				addedCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, addedCount)
	records, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAddNewCodeDuplicateIsNoop(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	l := NewFileLedger(path)

	added, err := l.AddNewCode(context.Background(), "0xZZZ", "codeA")
	require.NoError(t, err)
	assert.False(t, added)

	got, _ := os.ReadFile(path)
	assert.Equal(t, sampleLedger, string(got))
}

func TestAddNewCodeRejectsSeparator(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), "ledger.txt"))
	_, err := l.AddNewCode(context.Background(), "0xAAA", "bad:code")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestFileLedgerMalformedFile(t *testing.T) {
	l := NewFileLedger(writeLedger(t, "garbage line\n"))
	_, _, err := l.AcquireCode(context.Background(), 5)
	assert.ErrorIs(t, err, ErrMalformedLedger)
}

func TestFileLedgerCancelledContext(t *testing.T) {
	l := NewFileLedger(writeLedger(t, sampleLedger))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.RecordUsage(ctx, "codeA"), context.Canceled)
}

// ============================================================================
// Instrumented
// ============================================================================

func TestInstrumented(t *testing.T) {
	var ops []string
	var errs []error
	l := Instrumented(NewFileLedger(writeLedger(t, sampleLedger)), func(op string, err error) {
		ops = append(ops, op)
		errs = append(errs, err)
	})
	ctx := context.Background()

	_, _, _ = l.AcquireCode(ctx, 5)
	_ = l.RecordUsage(ctx, "nope")
	_, _ = l.AddNewCode(ctx, "0x1", "new")
	_, _ = l.Records(ctx)

	assert.Equal(t, []string{"acquire_code", "record_usage", "add_new_code", "records"}, ops)
	assert.True(t, errors.Is(errs[1], ErrCodeNotFound))
}

// ============================================================================
// RedisLedger
// ============================================================================

func newRedisLedger(t *testing.T) *RedisLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedger(client, "test:referral")
}

func TestRedisLedgerBasic(t *testing.T) {
	l := newRedisLedger(t)
	ctx := context.Background()

	_, ok, err := l.AcquireCode(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	added, err := l.AddNewCode(ctx, "0xAAA", "codeA")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.AddNewCode(ctx, "0xBBB", "codeB")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.AddNewCode(ctx, "0xCCC", "codeA")
	require.NoError(t, err)
	assert.False(t, added, "duplicate code is ignored")

	require.NoError(t, l.RecordUsage(ctx, "codeA"))
	require.NoError(t, l.RecordUsage(ctx, "codeA"))

	code, ok, err := l.AcquireCode(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "codeB", code)

	records, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ReferralRecord{
		{Wallet: "0xAAA", Code: "codeA", Invites: 2},
		{Wallet: "0xBBB", Code: "codeB", Invites: 0},
	}, records)

	assert.ErrorIs(t, l.RecordUsage(ctx, "missing"), ErrCodeNotFound)
}

func TestRedisLedgerConcurrentRecordUsage(t *testing.T) {
	l := newRedisLedger(t)
	ctx := context.Background()
	_, err := l.AddNewCode(ctx, "0xAAA", "codeA")
	require.NoError(t, err)

	const m = 40
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.RecordUsage(ctx, "codeA"))
		}()
	}
	wg.Wait()

	records, err := l.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, m, records[0].Invites)
}

func TestRedisLedgerImport(t *testing.T) {
	l := newRedisLedger(t)
	ctx := context.Background()

	records, err := Parse([]byte(sampleLedger))
	require.NoError(t, err)

	n, err := l.Import(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleLedger, string(Format(got)))

	n, err = l.Import(ctx, records)
	require.NoError(t, err)
	assert.Zero(t, n, "second import is a no-op")
}
