// ============================================================================
// zerog-bots 錢包追蹤器 - 錢包執行狀態機
// ============================================================================
//
// Package: internal/tracker
// 文件: tracker.go
// 功能: 追蹤一次執行中每個錢包的狀態、目前模組與結果
//
// 錢包狀態轉換:
//   pending (已註冊)
//      ↓ Start()
//   running (執行中)  ← Observe() / SetModule() / RecordModule() 更新細節
//      ↓ Finish(nil) 或 Finish(err)
//   completed / failed
//
// 數據結構設計:
//   wallets map[int]*WalletRun - 主存儲，key 為 1-based 錢包序號
//   order   []int              - 註冊順序，Snapshot 依此輸出
//
// 並發安全:
//   - 使用 sync.RWMutex 保護所有數據結構
//   - Get / List / Snapshot 回傳複本，呼叫端修改不影響內部狀態
//
// ============================================================================

package tracker

import (
	"errors"
	"sync"
	"time"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 錢包序號重複
	ErrDuplicateWallet = errors.New("wallet already registered")
	// 錢包不存在
	ErrWalletNotFound = errors.New("wallet not found")
	// 錢包不在預期狀態
	ErrInvalidStatus = errors.New("wallet in unexpected status")
)

// Tracker 追蹤一次執行中所有錢包的狀態
type Tracker struct {
	mu      sync.RWMutex
	wallets map[int]*types.WalletRun
	order   []int
	started time.Time
	now     func() time.Time
}

// New 建立新的追蹤器
func New() *Tracker {
	return &Tracker{
		wallets: make(map[int]*types.WalletRun),
		order:   make([]int, 0),
		started: time.Now(),
		now:     time.Now,
	}
}

// Register 以 pending 狀態加入錢包
//
// 錯誤處理：
//   - ErrDuplicateWallet: 同一序號已註冊
func (t *Tracker) Register(index int, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.wallets[index]; exists {
		return ErrDuplicateWallet
	}
	t.wallets[index] = &types.WalletRun{
		Index:   index,
		Address: address,
		Status:  types.WalletPending,
	}
	t.order = append(t.order, index)
	return nil
}

// Start 將錢包標記為執行中
//
// 錯誤處理：
//   - ErrWalletNotFound: 錢包未註冊
//   - ErrInvalidStatus: 錢包不是 pending
func (t *Tracker) Start(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, exists := t.wallets[index]
	if !exists {
		return ErrWalletNotFound
	}
	if w.Status != types.WalletPending {
		return ErrInvalidStatus
	}
	w.Status = types.WalletRunning
	w.StartedAt = t.now().UnixMilli()
	return nil
}

// SetModule 記錄錢包目前執行的模組
func (t *Tracker) SetModule(index int, module string) {
	t.update(index, func(w *types.WalletRun) {
		w.Module = module
	})
}

// Observe 記錄 TaskRunner 的狀態轉換
func (t *Tracker) Observe(index int, state types.RunState, taskIndex int) {
	t.update(index, func(w *types.WalletRun) {
		w.RunState = state
		w.TaskIndex = taskIndex
	})
}

// RecordModule 記錄模組的最終結果
func (t *Tracker) RecordModule(index int, module string, ok bool) {
	t.update(index, func(w *types.WalletRun) {
		if ok {
			w.Succeeded = append(w.Succeeded, module)
		} else {
			w.Failed = append(w.Failed, module)
		}
	})
}

// Finish 將錢包標記為完成；err 非 nil 時為 failed
//
// 錯誤處理：
//   - ErrWalletNotFound: 錢包未註冊
//   - ErrInvalidStatus: 錢包不是 running
func (t *Tracker) Finish(index int, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, exists := t.wallets[index]
	if !exists {
		return ErrWalletNotFound
	}
	if w.Status != types.WalletRunning {
		return ErrInvalidStatus
	}

	w.FinishedAt = t.now().UnixMilli()
	if err != nil {
		w.Status = types.WalletFailed
		w.Error = err.Error()
		return nil
	}
	w.Status = types.WalletCompleted
	return nil
}

// Get 取得單一錢包的複本
func (t *Tracker) Get(index int) (types.WalletRun, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, exists := t.wallets[index]
	if !exists {
		return types.WalletRun{}, ErrWalletNotFound
	}
	return copyRun(w), nil
}

// List 依註冊順序回傳所有錢包的複本
func (t *Tracker) List() []types.WalletRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.WalletRun, 0, len(t.order))
	for _, idx := range t.order {
		out = append(out, copyRun(t.wallets[idx]))
	}
	return out
}

// Stats 回傳各狀態的錢包數量
//
// 返回值：
//   - map[string]int: 包含 "total" 與各 WalletStatus 的數量
func (t *Tracker) Stats() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := map[string]int{
		"total":                       len(t.wallets),
		string(types.WalletPending):   0,
		string(types.WalletRunning):   0,
		string(types.WalletCompleted): 0,
		string(types.WalletFailed):    0,
	}
	for _, w := range t.wallets {
		stats[string(w.Status)]++
	}
	return stats
}

// Snapshot 產生可寫入摘要快照的 RunSummary
func (t *Tracker) Snapshot() types.RunSummary {
	wallets := t.List()
	return types.RunSummary{
		StartedAt:  t.started.UnixMilli(),
		FinishedAt: t.now().UnixMilli(),
		Stats:      t.Stats(),
		Wallets:    wallets,
	}
}

// update 在鎖內修改錢包；未註冊的錢包直接略過
func (t *Tracker) update(index int, fn func(*types.WalletRun)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, exists := t.wallets[index]; exists {
		fn(w)
	}
}

func copyRun(w *types.WalletRun) types.WalletRun {
	c := *w
	c.Succeeded = append([]string(nil), w.Succeeded...)
	c.Failed = append([]string(nil), w.Failed...)
	return c
}
