package journal

// ============================================================================
// Action Journal 核心實作
// 職責：
// 1. 以 JSON Lines 追加每一個 bot 動作（append-only）
// 2. 提供重放功能供 status 指令與除錯使用
// 3. 支援日誌旋轉
// 4. 每筆紀錄附帶 CRC32，重放時驗證
// ============================================================================

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// FileJournal 表示 append-only 的動作日誌
type FileJournal struct {
	mu           sync.Mutex
	file         FileInterface
	encoder      *json.Encoder
	path         string
	seq          uint64
	syncOnAppend bool
	closed       bool

	buffer     []Entry
	bufferSize int
	now        func() time.Time
}

// ============================================================================
// 公開介面
// ============================================================================

/*
NewFileJournal 建立或開啟一個日誌

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案已存在，讀取最後一筆紀錄的 seq 並繼續
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋

參數：

	path         - 日誌檔案路徑
	syncOnAppend - true 時每筆紀錄立即寫入並 fsync
*/
func NewFileJournal(path string, syncOnAppend bool) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	seq, err := lastSeq(path)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileJournal{
		file:         file,
		encoder:      json.NewEncoder(file),
		path:         path,
		seq:          seq,
		syncOnAppend: syncOnAppend,
		buffer:       make([]Entry, 0, 64),
		bufferSize:   64,
		now:          time.Now,
	}, nil
}

// Record 追加一筆紀錄
//
// 行為：
// - 自動遞增 seq、補上 ID 與時間戳
// - 計算 checksum
// - syncOnAppend 或緩衝區已滿時寫入並同步到磁碟
func (j *FileJournal) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	j.seq++
	entry.Seq = j.seq
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = j.now().UnixMilli()
	}
	entry.Checksum = CalculateChecksum(entry)

	j.buffer = append(j.buffer, entry)
	if j.syncOnAppend || len(j.buffer) >= j.bufferSize {
		return j.flushLocked()
	}
	return nil
}

// Flush 將緩衝區寫入磁碟
func (j *FileJournal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.flushLocked()
}

// Replay 依序重放所有紀錄；checksum 不符或解析失敗立即停止
func (j *FileJournal) Replay(handler EntryHandler) error {
	j.mu.Lock()
	if !j.closed {
		if err := j.flushLocked(); err != nil {
			j.mu.Unlock()
			return err
		}
	}
	j.mu.Unlock()

	return ReplayFile(j.path, handler)
}

// Rotate 將目前檔案改名為 path.<timestamp>，並從 seq 0 開新檔
func (j *FileJournal) Rotate() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return "", ErrJournalClosed
	}
	if err := j.flushLocked(); err != nil {
		return "", err
	}
	if err := j.file.Close(); err != nil {
		return "", err
	}

	backupPath := j.path + "." + j.now().Format("20060102_150405.000")
	if err := os.Rename(j.path, backupPath); err != nil {
		return "", err
	}

	newFile, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return "", err
	}

	j.file = newFile
	j.encoder = json.NewEncoder(newFile)
	j.seq = 0
	return backupPath, nil
}

// Close 寫出緩衝區並關閉檔案；關閉後不可再用
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// LastSeq 取得當前序號
func (j *FileJournal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path 回傳日誌路徑
func (j *FileJournal) Path() string {
	return j.path
}

// ============================================================================
// 內部輔助方法
// ============================================================================

// flushLocked 假設調用者已經持有 j.mu
func (j *FileJournal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for _, entry := range j.buffer {
		if err := j.encoder.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode journal entry seq=%d: %w", entry.Seq, err)
		}
	}
	j.buffer = j.buffer[:0]
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// ReplayFile 不需開啟寫入端即可讀取日誌（status 指令用）
func ReplayFile(path string, handler EntryHandler) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return &CorruptionError{Line: line, Cause: err}
		}
		if !VerifyChecksum(entry) {
			return &ChecksumError{Seq: entry.Seq, Expected: CalculateChecksum(entry), Actual: entry.Checksum}
		}
		if err := handler(entry); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// lastSeq 從頭掃描取得最後一筆紀錄的 seq；檔案為空回傳 0
func lastSeq(path string) (uint64, error) {
	var seq uint64
	err := ReplayFile(path, func(e Entry) error {
		seq = e.Seq
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan journal %s: %w", path, err)
	}
	return seq, nil
}
