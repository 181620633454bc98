package snapshot

// ============================================================================
// Snapshot Manager 測試檔案
// 職責：驗證原子性寫入、摘要載入、版本驗證與錯誤處理
// ============================================================================

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

func sampleSummary() types.RunSummary {
	return types.RunSummary{
		StartedAt:  1700000000000,
		FinishedAt: 1700000100000,
		Stats:      map[string]int{"completed": 1, "failed": 1},
		Wallets: []types.WalletRun{
			{Index: 1, Address: "0x01", Status: types.WalletCompleted, Succeeded: []string{"onchaingm"}},
			{Index: 2, Address: "0x02", Status: types.WalletFailed, Failed: []string{"jaine_faucet"}, Error: "boom"},
		},
	}
}

// ============================================================================
// WriteFileAtomic
// ============================================================================

// TestWriteFileAtomic 測試原子寫入建立目錄並覆寫內容
func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	// 不應留下臨時檔案
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestWriteFileAtomicConcurrent 並發寫入後檔案內容必為其中一份完整資料
func TestWriteFileAtomicConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	payloads := []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, WriteFileAtomic(path, []byte(p), 0644))
		}(payloads[i%len(payloads)])
	}
	wg.Wait()

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, payloads, string(got))
}

// ============================================================================
// Manager
// ============================================================================

func TestNewManager(t *testing.T) {
	manager := NewManager("summary.json")
	assert.NotNil(t, manager)
	assert.Equal(t, "summary.json", manager.GetPath())
}

// TestWriteAndLoad 測試寫入與載入摘要
func TestWriteAndLoad(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "summary.json"))
	original := sampleSummary()

	require.NoError(t, manager.Write(original))
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, schemaVersion, loaded.SchemaVer)
	assert.Equal(t, original.Stats, loaded.Stats)
	assert.Equal(t, original.Wallets, loaded.Wallets)
}

func TestLoadMissing(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "missing.json"))
	_, err := manager.Load()
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.False(t, manager.Exists())
}

func TestLoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewManager(path).Load()
	assert.ErrorIs(t, err, ErrCorruptedSnapshot)
}

func TestLoadIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_ver": 7}`), 0644))

	_, err := NewManager(path).Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

// TestWriteWithBackup 測試備份保留數量
func TestWriteWithBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary.json")
	manager := NewManager(path)

	for i := 0; i < 5; i++ {
		s := sampleSummary()
		s.StartedAt = int64(i)
		require.NoError(t, manager.WriteWithBackup(s, 2))
	}

	backups, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2)

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(4), loaded.StartedAt, "latest summary wins")
}
