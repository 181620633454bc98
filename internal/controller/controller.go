// ============================================================================
// zerog-bots 控制器 - 多錢包執行協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 選出要執行的錢包，以固定大小的 worker pool 逐一跑完每個錢包的流程
//
// 架構設計:
//   這是整個系統的"大腦"，負責協調以下組件：
//   - WorkerPool: 每個錢包一個 job，同時執行 threads 個
//   - Registry:   依名稱取得動作模組（faucet / mint / stake / puzzlemania）
//   - Tracker:    每個錢包的狀態（pending / running / completed / failed）
//   - Journal:    每個模組結果先寫入行為日誌
//   - Snapshot:   執行結束時原子寫入摘要，供 status 指令讀取
//
// 單一錢包流程:
//   1. 睡眠：前 threads 個錢包用 random_initialization_pause，之後用 random_pause_between_accounts
//   2. 建立 Env：RPC client、campaign / X HTTP session、重試策略
//   3. 解析流程步驟（all 打亂順序、one_of 隨機選一）
//   4. 逐一執行模組；模組之間睡眠 random_pause_between_actions
//   5. 模組失敗時停止該錢包，除非 skip_failed_tasks
//
// 逾時與取消:
//   - wallet_timeout > 0 時每個錢包有自己的 deadline
//   - 上層 ctx 取消（SIGINT / SIGTERM）會中斷所有睡眠與網路呼叫
//
// 並發安全:
//   - 錢包之間不共享可變狀態；唯一共享的可變資源是推薦碼帳本
//   - Tracker / Journal / Collector 各自內部加鎖
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ChuLiYu/zerog-bots/internal/chain"
	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/internal/ledger"
	"github.com/ChuLiYu/zerog-bots/internal/metrics"
	"github.com/ChuLiYu/zerog-bots/internal/module"
	"github.com/ChuLiYu/zerog-bots/internal/retry"
	"github.com/ChuLiYu/zerog-bots/internal/snapshot"
	"github.com/ChuLiYu/zerog-bots/internal/storage/journal"
	"github.com/ChuLiYu/zerog-bots/internal/tracker"
	"github.com/ChuLiYu/zerog-bots/internal/transport"
	"github.com/ChuLiYu/zerog-bots/internal/worker"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrNoWallets    = errors.New("no wallets selected")
	ErrModuleFailed = errors.New("module failed")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// ChainDialer 為錢包建立 RPC client；回傳的 close 可為 nil
type ChainDialer func(ctx context.Context, w types.Wallet) (chain.Client, func(), error)

// SessionFactory 為錢包建立 campaign 與 X 的 HTTP session
type SessionFactory func(w types.Wallet) (campaign, social transport.Doer, err error)

// Deps Controller 的依賴
type Deps struct {
	Config   *config.Config
	Wallets  []types.Wallet
	Registry *module.Registry
	Ledger   ledger.Ledger
	Journal  journal.Recorder   // nil 時不寫日誌
	Metrics  *metrics.Collector // nil 時不記錄指標
	Tracker  *tracker.Tracker   // nil 時建立新的
	Summary  *snapshot.Manager  // nil 時不寫摘要

	DialChain   ChainDialer
	NewSessions SessionFactory

	// Sleep 錢包與模組之間的節奏睡眠；nil 時使用 retry.Sleep
	Sleep retry.SleepFunc
	// Rand 流程解析與錢包洗牌；nil 時使用全域來源
	Rand *rand.Rand
}

// Controller 一次執行的協調器
type Controller struct {
	deps    Deps
	cfg     *config.Config
	tracker *tracker.Tracker
	journal journal.Recorder

	randMu sync.Mutex // *rand.Rand 不可並發使用
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立 Controller
//
// 錯誤處理：
//   - 缺少 Config / Registry / DialChain / NewSessions
//   - 流程中引用未註冊的模組（ErrUnknownModule）
func New(d Deps) (*Controller, error) {
	if d.Config == nil {
		return nil, fmt.Errorf("%w: config is required", config.ErrInvalidConfig)
	}
	if d.Registry == nil {
		return nil, errors.New("module registry is required")
	}
	if d.DialChain == nil || d.NewSessions == nil {
		return nil, errors.New("chain dialer and session factory are required")
	}
	for _, step := range d.Config.Flow.Tasks {
		if err := d.Registry.Check(step.Modules); err != nil {
			return nil, err
		}
	}

	c := &Controller{deps: d, cfg: d.Config, tracker: d.Tracker, journal: d.Journal}
	if c.tracker == nil {
		c.tracker = tracker.New()
	}
	if c.journal == nil {
		c.journal = journal.Nop{}
	}
	return c, nil
}

// Tracker 本次執行的錢包追蹤器
func (c *Controller) Tracker() *tracker.Tracker {
	return c.tracker
}

// Run 執行所有選出的錢包，回傳摘要
//
// 返回值：
//   - types.RunSummary: 每個錢包的最終狀態
//   - error: 沒有錢包、pool 錯誤或 ctx 被取消
func (c *Controller) Run(ctx context.Context) (types.RunSummary, error) {
	wallets := SelectWallets(c.deps.Wallets, c.cfg.Settings, c.deps.Rand)
	if len(wallets) == 0 {
		return types.RunSummary{}, ErrNoWallets
	}

	for _, w := range wallets {
		if err := c.tracker.Register(w.Index, w.Address.Hex()); err != nil {
			return types.RunSummary{}, fmt.Errorf("failed to register wallet %d: %w", w.Index, err)
		}
	}

	threads := c.cfg.Settings.Threads
	if threads < 1 {
		threads = 1
	}
	log.Info().Int("wallets", len(wallets)).Int("threads", threads).Msg("starting run")

	// 1. 啟動 pool，一次提交全部錢包
	pool := worker.NewPool(len(wallets))
	if err := pool.Start(ctx, threads); err != nil {
		return types.RunSummary{}, fmt.Errorf("failed to start worker pool: %w", err)
	}
	for pos, w := range wallets {
		task := worker.Task{
			ID:      w.Address.Hex(),
			Index:   w.Index,
			Timeout: c.cfg.Settings.WalletTimeout,
			Run: func(ctx context.Context) error {
				return c.runWallet(ctx, pos, w, threads)
			},
		}
		if err := pool.Submit(task); err != nil {
			pool.Stop()
			return types.RunSummary{}, fmt.Errorf("failed to submit wallet %d: %w", w.Index, err)
		}
	}
	pool.Drain()

	// 2. 讀完全部結果
	failed := 0
	for {
		result, err := pool.ReceiveResult(context.Background())
		if errors.Is(err, worker.ErrPoolClosed) {
			break
		}
		if err != nil {
			return types.RunSummary{}, err
		}
		if !result.Success {
			failed++
			c.finishIfRunning(result.Index, result.Error)
		}
		log.Info().
			Int("account", result.Index).
			Bool("success", result.Success).
			Dur("duration", result.Duration).
			Msg("wallet finished")
	}

	// 3. 摘要
	summary := c.tracker.Snapshot()
	if c.deps.Summary != nil {
		if err := c.deps.Summary.Write(summary); err != nil {
			log.Error().Err(err).Msg("failed to write run summary")
		}
	}
	log.Info().Interface("stats", summary.Stats).Int("failed", failed).Msg("run finished")

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}
	return summary, nil
}

// runWallet 單一錢包的完整流程（在 worker goroutine 中執行）
func (c *Controller) runWallet(ctx context.Context, pos int, w types.Wallet, threads int) (err error) {
	logger := log.With().Int("account", w.Index).Str("wallet", w.Address.Hex()).Logger()
	ctx = logger.WithContext(ctx)
	settings := c.cfg.Settings

	// 1. 啟動前睡眠
	pause := settings.RandomPauseBetweenAccounts
	if pos < threads {
		pause = settings.RandomInitializationPause
	}
	delay := pause.Duration()
	logger.Info().Dur("delay", delay).Msg("waiting before starting wallet")
	if err := c.sleep(ctx, delay); err != nil {
		return err
	}

	if err := c.tracker.Start(w.Index); err != nil {
		return err
	}
	started := time.Now()
	if m := c.deps.Metrics; m != nil {
		m.WalletStarted()
	}
	c.record(ctx, journal.Entry{Type: journal.EventWalletStart, Account: w.Index, Wallet: w.Address.Hex()})

	defer func() {
		status := types.WalletCompleted
		outcome := types.OutcomeSuccess
		if err != nil {
			status, outcome = types.WalletFailed, types.OutcomeFailure
		}
		if fErr := c.tracker.Finish(w.Index, err); fErr != nil {
			logger.Warn().Err(fErr).Msg("failed to finish wallet in tracker")
		}
		if m := c.deps.Metrics; m != nil {
			m.WalletFinished(status, time.Since(started))
		}
		entry := journal.Entry{Type: journal.EventWalletFinish, Account: w.Index, Wallet: w.Address.Hex(), Outcome: outcome.String()}
		if err != nil {
			entry.Reason = err.Error()
		}
		c.record(context.WithoutCancel(ctx), entry)
	}()

	// 2. 執行環境
	env, closeEnv, err := c.buildEnv(ctx, w)
	if err != nil {
		return err
	}
	defer closeEnv()

	// 3. 流程
	steps := c.resolveFlow()
	logger.Info().Strs("modules", steps).Msg("resolved flow")

	var failures []string
	for i, name := range steps {
		mod, err := c.deps.Registry.Get(name)
		if err != nil {
			return err
		}

		c.tracker.SetModule(w.Index, name)
		res := mod.Run(ctx, env)
		c.tracker.RecordModule(w.Index, name, res.OK())
		if m := c.deps.Metrics; m != nil {
			m.RecordAction(name, res)
		}
		c.record(ctx, journal.Entry{
			Type:    journal.EventAction,
			Account: w.Index,
			Wallet:  w.Address.Hex(),
			Module:  name,
			Outcome: res.Kind.String(),
			TxHash:  res.TxHash,
			Reason:  res.Reason,
		})

		if err := ctx.Err(); err != nil {
			return err
		}
		if !res.OK() {
			logger.Error().Str("module", name).Str("reason", res.Reason).Msg("module failed")
			failures = append(failures, name)
			if !c.cfg.Flow.SkipFailedTasks {
				return fmt.Errorf("%w: %s: %s", ErrModuleFailed, name, res.Reason)
			}
		}

		if i < len(steps)-1 {
			if err := c.sleep(ctx, settings.RandomPauseBetweenActions.Duration()); err != nil {
				return err
			}
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: %v", ErrModuleFailed, failures)
	}
	logger.Info().Msg("all modules completed")
	return nil
}

// buildEnv 為錢包建立 RPC 與 HTTP session
func (c *Controller) buildEnv(ctx context.Context, w types.Wallet) (*module.Env, func(), error) {
	client, closeChain, err := c.deps.DialChain(ctx, w)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect rpc: %w", err)
	}
	if closeChain == nil {
		closeChain = func() {}
	}

	campaignHTTP, socialHTTP, err := c.deps.NewSessions(w)
	if err != nil {
		closeChain()
		return nil, nil, fmt.Errorf("failed to create http session: %w", err)
	}

	policy := c.cfg.Settings.RetryPolicy()
	if m := c.deps.Metrics; m != nil {
		policy.OnRetry = func(name string, _ int, _ error) { m.RecordRetry(name) }
	}
	if c.deps.Sleep != nil {
		policy.Sleep = c.deps.Sleep
	}

	env := &module.Env{
		Wallet: w,
		Chain:  client,
		HTTP:   campaignHTTP,
		Social: socialHTTP,
		Ledger: c.deps.Ledger,
		Config: c.cfg,
		Policy: policy,
		Sleep:  c.deps.Sleep,
	}
	return env, closeChain, nil
}

// finishIfRunning 錢包在 Start 之前就失敗（例如睡眠被取消）時補上狀態
func (c *Controller) finishIfRunning(index int, err error) {
	logger := log.With().Int("account", index).Logger()
	run, getErr := c.tracker.Get(index)
	if getErr != nil {
		logger.Warn().Err(getErr).Msg("failed to look up wallet in tracker")
		return
	}
	if run.Status != types.WalletPending {
		return
	}
	if sErr := c.tracker.Start(index); sErr != nil {
		logger.Warn().Err(sErr).Msg("failed to start wallet in tracker")
		return
	}
	if fErr := c.tracker.Finish(index, err); fErr != nil {
		logger.Warn().Err(fErr).Msg("failed to finish wallet in tracker")
	}
}

func (c *Controller) resolveFlow() []string {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return config.ResolveFlow(c.cfg.Flow.Tasks, c.deps.Rand)
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.deps.Sleep != nil {
		return c.deps.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}

func (c *Controller) record(ctx context.Context, e journal.Entry) {
	if err := c.journal.Record(ctx, e); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("type", string(e.Type)).Msg("failed to write journal entry")
	}
}
