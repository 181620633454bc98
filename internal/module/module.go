// ============================================================================
// zerog-bots Module - 模組進入點契約
// ============================================================================
//
// Package: internal/module
// 文件: module.go
// 功能: 每個動作模組（faucet、mint、stake、puzzlemania）共用的執行環境與註冊表
//
// orchestrator 對每個錢包建立一個 Env，依設定的流程逐一呼叫 Module.Run。
// Run 回傳明確的 Outcome；Outcome.OK() 即為模組的成功與否。
//
// ============================================================================

package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/zerog-bots/internal/chain"
	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/internal/ledger"
	"github.com/ChuLiYu/zerog-bots/internal/retry"
	"github.com/ChuLiYu/zerog-bots/internal/transport"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrUnknownModule   = errors.New("unknown module")
	ErrDuplicateModule = errors.New("module already registered")
)

// Env 單一錢包執行模組所需的一切
type Env struct {
	Wallet types.Wallet
	Chain  chain.Client
	HTTP   transport.Doer // campaign 後端 session
	Social transport.Doer // X session（不跟隨重新導向），可為 nil
	Ledger ledger.Ledger
	Config *config.Config
	Policy retry.Policy

	// Sleep 節奏睡眠；nil 時使用 retry.Sleep
	Sleep retry.SleepFunc
}

// Pause 在 r 範圍內隨機睡眠，ctx 結束時提前返回
func (e *Env) Pause(ctx context.Context, r config.Range) error {
	return e.SleepFor(ctx, r.Duration())
}

// SleepFor 睡眠 d
func (e *Env) SleepFor(ctx context.Context, d time.Duration) error {
	sleep := e.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	return sleep(ctx, d)
}

// Module 動作模組
type Module interface {
	Name() string
	Run(ctx context.Context, env *Env) types.Outcome
}

// Func 以函式實作 Module
type Func struct {
	ModuleName string
	Fn         func(ctx context.Context, env *Env) types.Outcome
}

// Name 模組名稱
func (f Func) Name() string { return f.ModuleName }

// Run 執行
func (f Func) Run(ctx context.Context, env *Env) types.Outcome { return f.Fn(ctx, env) }

// ============================================================================
// 註冊表
// ============================================================================

// Registry 名稱 -> 模組
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry 建立註冊表並註冊 mods
func NewRegistry(mods ...Module) (*Registry, error) {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 註冊模組；名稱重複時回傳 ErrDuplicateModule
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name())
	}
	r.modules[m.Name()] = m
	return nil
}

// Get 依名稱取得模組
func (r *Registry) Get(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return m, nil
}

// Names 排序後的模組名稱
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check 確認所有名稱都已註冊
func (r *Registry) Check(names []string) error {
	for _, n := range names {
		if _, err := r.Get(n); err != nil {
			return err
		}
	}
	return nil
}
