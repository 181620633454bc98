// ============================================================================
// zerog-bots Referral Ledger - 推薦碼帳本
// ============================================================================
//
// Package: internal/ledger
// 文件: ledger.go
// 功能: 錢包 -> 推薦碼 -> 使用次數 的共享帳本
//
// 操作:
//   AcquireCode(max)   找出第一個使用次數 < max 的推薦碼，不遞增
//                      （後端確認任務完成後才呼叫 RecordUsage，避免失敗時多算）
//   RecordUsage(code)  次數 +1 並持久化
//   AddNewCode(w, c)   推薦碼不存在時新增；已存在則不做任何事
//   Records()          列出全部紀錄（CLI 用）
//
// 實作:
//   FileLedger   純文字檔 + 單一粗粒度互斥鎖，讀-改-寫整段在臨界區內
//   RedisLedger  以 Redis 原子遞增取代粗粒度鎖
//   server.RemoteLedger  透過 gRPC 共用另一個行程的帳本
//
// ============================================================================

package ledger

import (
	"context"
	"errors"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrCodeNotFound RecordUsage 的推薦碼不在帳本中
	ErrCodeNotFound = errors.New("referral code not found")
	// ErrMalformedLedger 帳本檔案格式錯誤（終止性錯誤，不應重試）
	ErrMalformedLedger = errors.New("referral ledger is malformed")
	// ErrInvalidRecord 紀錄欄位不合法（空值或含分隔符）
	ErrInvalidRecord = errors.New("invalid referral record")
)

// Ledger 推薦碼帳本介面
type Ledger interface {
	AcquireCode(ctx context.Context, maxInvites int) (string, bool, error)
	RecordUsage(ctx context.Context, code string) error
	AddNewCode(ctx context.Context, wallet, code string) (bool, error)
	Records(ctx context.Context) ([]types.ReferralRecord, error)
}

// Observer 接收每次帳本操作的結果（指標用）
type Observer func(op string, err error)

// Instrumented 包裝 Ledger，每次操作後呼叫 observe
func Instrumented(l Ledger, observe Observer) Ledger {
	if observe == nil {
		return l
	}
	return &instrumented{inner: l, observe: observe}
}

type instrumented struct {
	inner   Ledger
	observe Observer
}

func (i *instrumented) AcquireCode(ctx context.Context, maxInvites int) (string, bool, error) {
	code, ok, err := i.inner.AcquireCode(ctx, maxInvites)
	i.observe("acquire_code", err)
	return code, ok, err
}

func (i *instrumented) RecordUsage(ctx context.Context, code string) error {
	err := i.inner.RecordUsage(ctx, code)
	i.observe("record_usage", err)
	return err
}

func (i *instrumented) AddNewCode(ctx context.Context, wallet, code string) (bool, error) {
	added, err := i.inner.AddNewCode(ctx, wallet, code)
	i.observe("add_new_code", err)
	return added, err
}

func (i *instrumented) Records(ctx context.Context) ([]types.ReferralRecord, error) {
	records, err := i.inner.Records(ctx)
	i.observe("records", err)
	return records, err
}
