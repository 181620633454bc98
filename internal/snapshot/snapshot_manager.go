package snapshot

// ============================================================================
// 職責說明：
// 1. 原子性寫入檔案（temp file + rename），帳本與執行摘要共用
// 2. 將一次執行的彙總（types.RunSummary）序列化為 JSON 快照
// 3. 載入時驗證 schema 版本相容性
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot file not found")
)

// schemaVersion 目前的摘要格式版本
const schemaVersion = 1

// ============================================================================
// 原子寫入
// ============================================================================

// WriteFileAtomic 先寫入同目錄的臨時檔，再以 os.Rename 原子性替換
//
// 同目錄是必要的：rename 只有在同一個檔案系統內才是原子的。
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// 1. 寫入臨時檔案並同步到磁碟
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	// 2. 原子性重新命名（關鍵步驟）
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", tmpPath, err)
	}
	return nil
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Manager 執行摘要快照管理器
type Manager struct {
	path string     // 快照檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewManager 建立快照管理器實例
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
	}
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Write 原子性寫入執行摘要
//
// 參數：
//   - summary: 執行摘要（SchemaVer 會被覆寫為目前版本）
//
// 返回值：
//   - error: 寫入失敗時的錯誤
func (m *Manager) Write(summary types.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(summary)
}

func (m *Manager) writeLocked(summary types.RunSummary) error {
	summary.SchemaVer = schemaVersion

	// 帶縮排，方便人工閱讀
	jsonBytes, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := WriteFileAtomic(m.path, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load 載入執行摘要
//
// 行為：
//   - 檔案不存在時回傳 ErrSnapshotNotFound（尚未執行過）
//   - 驗證 schema 版本
//   - 偵測損壞的快照檔案
func (m *Manager) Load() (types.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var summary types.RunSummary

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return summary, ErrSnapshotNotFound
		}
		return summary, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &summary); err != nil {
		return summary, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}

	if summary.SchemaVer != schemaVersion {
		return summary, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, summary.SchemaVer, schemaVersion)
	}

	if summary.Stats == nil {
		summary.Stats = make(map[string]int)
	}
	return summary, nil
}

// Exists 檢查快照檔案是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得快照檔案路徑
func (m *Manager) GetPath() string {
	return m.path
}

// WriteWithBackup 寫入摘要並保留最近 keepBackups 份舊版本
func (m *Manager) WriteWithBackup(summary types.RunSummary, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Exists() && keepBackups > 0 {
		backupPath := fmt.Sprintf("%s.%s", m.path, time.Now().Format("20060102_150405.000"))
		if err := os.Rename(m.path, backupPath); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
		if err := m.pruneBackupsLocked(keepBackups); err != nil {
			return err
		}
	}

	return m.writeLocked(summary)
}

// pruneBackupsLocked 刪除超出保留數量的舊備份（時間戳字典序即時間序）
func (m *Manager) pruneBackupsLocked(keep int) error {
	matches, err := filepath.Glob(m.path + ".*")
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]string, 0, len(matches))
	for _, p := range matches {
		if strings.HasSuffix(p, ".tmp") {
			continue
		}
		backups = append(backups, p)
	}
	sort.Strings(backups)

	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil {
			return fmt.Errorf("failed to remove backup %s: %w", backups[0], err)
		}
		backups = backups[1:]
	}
	return nil
}
