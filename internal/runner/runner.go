// ============================================================================
// zerog-bots Runner - Puzzlemania 任務執行器
// ============================================================================
//
// Package: internal/runner
// 文件: runner.go
// 功能: 單一錢包的 campaign 任務狀態機
//
// LOGGED_OUT → LOGGING_IN → TWITTER_LINK_CHECK → [TWITTER_LINKING] → FETCHING_TASKS
//            → RUNNING_TASK(i)... → DONE | FAILED
//
// 規則:
//   - 任務依後端回傳順序逐一處理，錢包內不平行
//   - 排除清單與已 COMPLETED 的任務略過；未知任務記 warning 並視為成功
//   - 每個列出的任務之後（包含略過的）都睡眠 random_pause_between_actions
//   - 註冊任務可使用推薦碼：後端確認 COMPLETED 後才記錄使用次數；
//     帳本錯誤只略過推薦碼，不影響任務本身
//   - 最後可選擇收集本錢包的推薦碼寫入帳本
//
// ============================================================================

package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/ChuLiYu/zerog-bots/internal/campaign"
	"github.com/ChuLiYu/zerog-bots/internal/module"
	"github.com/ChuLiYu/zerog-bots/internal/retry"
	"github.com/ChuLiYu/zerog-bots/internal/social"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrInvalidTransition = errors.New("invalid run state transition")
	ErrTasksFailed       = errors.New("one or more tasks failed")
)

// Linker 完成 X 帳號連結
type Linker interface {
	Link(ctx context.Context, p social.Provider) (string, error)
}

// Hooks 狀態與任務結果的回報（皆可為 nil）
type Hooks struct {
	State func(w types.Wallet, state types.RunState, taskIndex int)
	Task  func(kind string, ok bool)
}

// Runner 單一錢包的一次執行；不可重複使用
type Runner struct {
	env     *module.Env
	backend campaign.Backend
	linker  Linker
	hooks   Hooks

	state types.RunState
}

// New 建立 Runner；linker 為 nil 時未連結 X 的錢包直接失敗
func New(env *module.Env, backend campaign.Backend, linker Linker, hooks Hooks) *Runner {
	return &Runner{env: env, backend: backend, linker: linker, hooks: hooks, state: types.StateLoggedOut}
}

// State 目前狀態
func (r *Runner) State() types.RunState {
	return r.state
}

// Run 執行整個狀態機
//
// 返回值：
//   - nil: DONE 且沒有任務失敗
//   - error: FAILED（登入、連結、取得任務失敗），或 DONE 但有任務失敗（ErrTasksFailed）
func (r *Runner) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	// 1. 登入
	if err := r.transition(types.StateLoggingIn, 0); err != nil {
		return err
	}
	if _, err := retry.Do(ctx, r.env.Policy, "puzzlemania_login", func(ctx context.Context, _ int) (types.LoginSession, error) {
		return r.backend.Login(ctx)
	}); err != nil {
		return r.fail(ctx, fmt.Errorf("failed to login: %w", err))
	}

	// 2. X 帳號
	if err := r.transition(types.StateTwitterLinkCheck, 0); err != nil {
		return err
	}
	if err := r.ensureTwitter(ctx); err != nil {
		return r.fail(ctx, err)
	}

	// 3. 任務列表
	if err := r.transition(types.StateFetchingTasks, 0); err != nil {
		return err
	}
	tasks, err := retry.Do(ctx, r.env.Policy, "puzzlemania_tasks", func(ctx context.Context, _ int) ([]types.Task, error) {
		return r.backend.Tasks(ctx)
	})
	if err != nil {
		return r.fail(ctx, fmt.Errorf("failed to get tasks: %w", err))
	}
	logger.Info().Int("tasks", len(tasks)).Msg("fetched campaign tasks")

	// 4. 逐一執行
	var taskErrs error
	for i, task := range tasks {
		if err := r.transition(types.StateRunningTask, i+1); err != nil {
			return err
		}
		if err := r.runTask(ctx, task); err != nil {
			taskErrs = multierr.Append(taskErrs, fmt.Errorf("%s: %w", task.Title, err))
		}
		if err := r.env.Pause(ctx, r.env.Config.Settings.RandomPauseBetweenActions); err != nil {
			return r.fail(ctx, err)
		}
	}

	// 5. 收集推薦碼
	if r.env.Config.Puzzlemania.CollectReferralCode {
		r.collectReferralCode(ctx)
	}

	if err := r.transition(types.StateDone, len(tasks)); err != nil {
		return err
	}
	if taskErrs != nil {
		logger.Warn().Err(taskErrs).Msg("puzzlemania finished with failed tasks")
		return fmt.Errorf("%w: %v", ErrTasksFailed, taskErrs)
	}
	logger.Info().Msg("puzzlemania tasks completed")
	return nil
}

func (r *Runner) ensureTwitter(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	status, err := retry.Do(ctx, r.env.Policy, "puzzlemania_twitter_check", func(ctx context.Context, _ int) (linkStatus, error) {
		name, ok, err := r.backend.TwitterLinked(ctx)
		return linkStatus{name: name, linked: ok}, err
	})
	if err != nil {
		return fmt.Errorf("failed to check twitter link: %w", err)
	}
	if status.linked {
		logger.Info().Str("twitter", status.name).Msg("twitter already linked")
		return nil
	}

	if err := r.transition(types.StateTwitterLinking, 0); err != nil {
		return err
	}
	if r.linker == nil {
		return social.ErrMissingToken
	}
	_, err = retry.Do(ctx, r.env.Policy, "puzzlemania_twitter_link", func(ctx context.Context, _ int) (string, error) {
		name, err := r.linker.Link(ctx, r.backend)
		if errors.Is(err, campaign.ErrRateLimited) {
			return "", retry.Permanent(err)
		}
		return name, err
	})
	if err != nil {
		return fmt.Errorf("failed to link twitter: %w", err)
	}
	return nil
}

type linkStatus struct {
	name   string
	linked bool
}

// ============================================================================
// 任務分派
// ============================================================================

func (r *Runner) runTask(ctx context.Context, task types.Task) error {
	logger := zerolog.Ctx(ctx).With().Str("task", task.Title).Logger()
	ctx = logger.WithContext(ctx)

	if Excluded(task.Title) {
		logger.Debug().Msg("task excluded")
		return nil
	}
	if task.Satisfied() {
		logger.Info().Msg("task already completed")
		return nil
	}

	kind := KindOf(task.Title)
	var (
		res types.Outcome
		err error
	)
	switch kind {
	case KindRegistration:
		res, err = r.register(ctx, task)
	case KindFollow, KindDailyCheckIn, KindEngagement:
		res, err = r.verify(ctx, kind, ActivityID(r.env.Config.Campaign, kind, task), nil)
	default:
		logger.Warn().Msg("unknown task, skipping")
		res = types.Success("")
	}

	if r.hooks.Task != nil {
		r.hooks.Task(kind.String(), err == nil)
	}
	if err != nil {
		logger.Error().Err(err).Str("kind", kind.String()).Msg("task failed")
		return err
	}
	logger.Info().Str("kind", kind.String()).Str("result", res.Kind.String()).Msg("task done")
	return nil
}

func (r *Runner) verify(ctx context.Context, kind TaskKind, activityID string, metadata map[string]interface{}) (types.Outcome, error) {
	return retry.Do(ctx, r.env.Policy, "puzzlemania_"+kind.String(), func(ctx context.Context, _ int) (types.Outcome, error) {
		return r.backend.Verify(ctx, activityID, metadata)
	})
}

// register 註冊任務，必要時附上帳本中的推薦碼
func (r *Runner) register(ctx context.Context, task types.Task) (types.Outcome, error) {
	logger := zerolog.Ctx(ctx)
	code := r.acquireCode(ctx)

	var metadata map[string]interface{}
	if code != "" {
		metadata = map[string]interface{}{"referralCode": code}
	}

	res, err := r.verify(ctx, KindRegistration, ActivityID(r.env.Config.Campaign, KindRegistration, task), metadata)
	if err != nil {
		return res, err
	}

	// 只有後端確認 COMPLETED 才算用掉一次
	if code != "" && res.Kind == types.OutcomeSuccess {
		if err := r.env.Ledger.RecordUsage(ctx, code); err != nil {
			logger.Error().Err(err).Str("referral_code", code).Msg("failed to record referral usage")
		} else {
			logger.Info().Str("referral_code", code).Msg("referral code used")
		}
	}
	return res, nil
}

func (r *Runner) acquireCode(ctx context.Context) string {
	cfg := r.env.Config.Puzzlemania
	if !cfg.UseReferralCode || r.env.Ledger == nil {
		return ""
	}
	logger := zerolog.Ctx(ctx)

	code, ok, err := r.env.Ledger.AcquireCode(ctx, cfg.InvitesPerReferralCode.Pick())
	if err != nil {
		logger.Error().Err(err).Msg("referral ledger unavailable, registering without code")
		return ""
	}
	if !ok {
		logger.Info().Msg("no referral code with free invites")
		return ""
	}
	return code
}

func (r *Runner) collectReferralCode(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	if r.env.Ledger == nil {
		return
	}

	code, err := retry.Do(ctx, r.env.Policy, "puzzlemania_referral_code", func(ctx context.Context, _ int) (string, error) {
		return r.backend.ReferralCode(ctx)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to collect referral code")
		return
	}
	if code == "" {
		logger.Warn().Msg("backend returned no referral code")
		return
	}

	added, err := r.env.Ledger.AddNewCode(ctx, r.env.Wallet.Address.Hex(), code)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("failed to save referral code")
	case added:
		logger.Info().Str("referral_code", code).Msg("referral code saved")
	default:
		logger.Debug().Str("referral_code", code).Msg("referral code already in ledger")
	}
}

// ============================================================================
// 狀態
// ============================================================================

func (r *Runner) transition(next types.RunState, taskIndex int) error {
	if !r.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	r.state = next
	if r.hooks.State != nil {
		r.hooks.State(r.env.Wallet, next, taskIndex)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, err error) error {
	zerolog.Ctx(ctx).Error().Err(err).Str("state", string(r.state)).Msg("puzzlemania run failed")
	if tErr := r.transition(types.StateFailed, 0); tErr != nil {
		return multierr.Append(err, tErr)
	}
	return err
}
