package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ChuLiYu/zerog-bots/internal/snapshot"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// FileLedger 以純文字檔為後端的帳本
//
// 所有操作在同一把鎖內完成 讀檔 -> 修改記憶體 -> 寫檔，
// 避免兩個 worker 讀到舊狀態後互相覆蓋（lost update）。
// 寫檔使用 temp file + rename，行程中途被殺也不會留下半份檔案。
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger 建立檔案帳本；檔案不存在時視為空帳本
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path 回傳帳本檔案路徑
func (l *FileLedger) Path() string {
	return l.path
}

// AcquireCode 回傳第一個 invites < maxInvites 的推薦碼，不遞增
func (l *FileLedger) AcquireCode(ctx context.Context, maxInvites int) (string, bool, error) {
	var code string
	var found bool

	err := l.transact(ctx, func(records []types.ReferralRecord) ([]types.ReferralRecord, bool, error) {
		for _, r := range records {
			if r.Invites < maxInvites {
				code, found = r.Code, true
				break
			}
		}
		return records, false, nil
	})
	return code, found, err
}

// RecordUsage 將 code 的次數 +1 並寫回
func (l *FileLedger) RecordUsage(ctx context.Context, code string) error {
	return l.transact(ctx, func(records []types.ReferralRecord) ([]types.ReferralRecord, bool, error) {
		for i := range records {
			if records[i].Code == code {
				records[i].Invites++
				return records, true, nil
			}
		}
		return records, false, fmt.Errorf("%w: %s", ErrCodeNotFound, code)
	})
}

// AddNewCode 推薦碼不存在時追加一筆 invites=0 的紀錄
func (l *FileLedger) AddNewCode(ctx context.Context, wallet, code string) (bool, error) {
	if err := validateField("wallet", wallet); err != nil {
		return false, err
	}
	if err := validateField("code", code); err != nil {
		return false, err
	}

	added := false
	err := l.transact(ctx, func(records []types.ReferralRecord) ([]types.ReferralRecord, bool, error) {
		for _, r := range records {
			if r.Code == code {
				log.Info().Str("wallet", wallet).Str("code", code).Msg("referral code already in ledger")
				return records, false, nil
			}
		}
		added = true
		return append(records, types.ReferralRecord{Wallet: wallet, Code: code}), true, nil
	})
	return added, err
}

// Records 讀取全部紀錄
func (l *FileLedger) Records(ctx context.Context) ([]types.ReferralRecord, error) {
	var out []types.ReferralRecord
	err := l.transact(ctx, func(records []types.ReferralRecord) ([]types.ReferralRecord, bool, error) {
		out = append(out, records...)
		return records, false, nil
	})
	return out, err
}

// transact 在鎖內載入紀錄、執行 fn，fn 回傳 dirty=true 時寫回
func (l *FileLedger) transact(ctx context.Context, fn func([]types.ReferralRecord) ([]types.ReferralRecord, bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}

	updated, dirty, err := fn(records)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return l.store(updated)
}

func (l *FileLedger) load() ([]types.ReferralRecord, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]types.ReferralRecord, 0), nil
		}
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}
	records, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return records, nil
}

func (l *FileLedger) store(records []types.ReferralRecord) error {
	if err := snapshot.WriteFileAtomic(l.path, Format(records), 0644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}
	return nil
}
