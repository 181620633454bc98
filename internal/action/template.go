// ============================================================================
// zerog-bots Action - 鏈上動作範本
// ============================================================================
//
// Package: internal/action
// 文件: template.go
// 功能: 所有鏈上動作（faucet、mint、stake）共用的執行流程
//
// 每次嘗試的步驟:
//   0. Skip       可選；目標狀態已成立時直接回傳 AlreadyDone
//   1. 餘額檢查   低於門檻立即失敗（不可重試，不會查詢手續費）
//   2. Build      組出 to / value / data；可在此處理前置條件（例如先領 faucet）
//   3. 手續費     legacy 或 EIP-1559
//   4. nonce      使用 pending nonce
//   5. 估算 gas   錯誤與送出錯誤分開
//   6. 送出       等待上鏈，沒有 tx hash 視為失敗
//
// 結果分類在每次嘗試的最外層進行，早於重試路徑：
// 符合標記（例如 "wait 24 hours"）的錯誤直接轉為 AlreadyDone，不會消耗重試次數。
//
// ============================================================================

package action

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ChuLiYu/zerog-bots/internal/chain"
	"github.com/ChuLiYu/zerog-bots/internal/module"
	"github.com/ChuLiYu/zerog-bots/internal/outcome"
	"github.com/ChuLiYu/zerog-bots/internal/retry"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrInsufficientBalance 原生幣不足以支付手續費
	ErrInsufficientBalance = errors.New("insufficient balance for fees")
	// ErrPrerequisite 前置條件無法滿足
	ErrPrerequisite = errors.New("prerequisite not satisfied")
)

// Call Build 的結果
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Spec 一個鏈上動作的描述
type Spec struct {
	Name string

	// MinNative 原生幣門檻；Strict 為 true 時要求餘額嚴格大於門檻
	// 兩者皆為零值時不檢查餘額
	MinNative float64
	Strict    bool

	// Markers 視為「已完成」的錯誤字串
	Markers []string

	// Skip 可選；回傳 true 時略過並以回傳的 Outcome 結束
	Skip func(ctx context.Context, env *module.Env) (types.Outcome, bool, error)

	// Build 組出交易內容，bal 為剛查到的原生幣餘額
	Build func(ctx context.Context, env *module.Env, bal chain.Amount) (Call, error)
}

// Static 固定內容的 Build
func Static(call Call) func(context.Context, *module.Env, chain.Amount) (Call, error) {
	return func(context.Context, *module.Env, chain.Amount) (Call, error) {
		return call, nil
	}
}

// Execute 以重試策略執行 spec，回傳最終結果
func Execute(ctx context.Context, env *module.Env, spec Spec) types.Outcome {
	logger := zerolog.Ctx(ctx)

	op := func(ctx context.Context, attempt int) (types.Outcome, error) {
		res, err := attemptOnce(ctx, env, spec)
		if err == nil {
			return res, nil
		}
		if o, ok := outcome.Classify(err, spec.Markers); ok {
			logger.Info().Str("op", spec.Name).Str("marker", o.Reason).Msg("already done, treating as success")
			return o, nil
		}
		return types.Outcome{}, err
	}

	res, err := retry.Do(ctx, env.Policy, spec.Name, op)
	if err != nil {
		logger.Error().Err(err).Str("op", spec.Name).Msg("action failed")
		return types.Failure(err.Error())
	}

	switch res.Kind {
	case types.OutcomeSuccess:
		logger.Info().Str("op", spec.Name).Str("tx", res.TxHash).Msg("action succeeded")
	case types.OutcomeAlreadyDone:
		logger.Info().Str("op", spec.Name).Str("reason", res.Reason).Msg("action already done")
	}
	return res
}

// attemptOnce 單次嘗試，不做任何重試或分類
func attemptOnce(ctx context.Context, env *module.Env, spec Spec) (types.Outcome, error) {
	logger := zerolog.Ctx(ctx)
	from := env.Wallet.Address

	// 0. 目標是否已經成立
	if spec.Skip != nil {
		res, skip, err := spec.Skip(ctx, env)
		if err != nil {
			return types.Outcome{}, err
		}
		if skip {
			return res, nil
		}
	}

	// 1. 原生幣餘額
	bal, err := env.Chain.Balance(ctx, from)
	if err != nil {
		return types.Outcome{}, err
	}
	if err := checkBalance(spec, bal); err != nil {
		return types.Outcome{}, retry.Permanent(err)
	}

	// 2. 交易內容
	call, err := spec.Build(ctx, env, bal)
	if err != nil {
		return types.Outcome{}, err
	}

	req := chain.TxRequest{
		From:    from,
		To:      call.To,
		Value:   call.Value,
		Data:    call.Data,
		ChainID: big.NewInt(env.Config.Contracts.ChainID),
	}
	if req.Value == nil {
		req.Value = new(big.Int)
	}

	// 3. 手續費
	if req.Fees, err = env.Chain.FeeParams(ctx); err != nil {
		return types.Outcome{}, wrapIfMissing(err, chain.ErrFeeParams)
	}

	// 4. nonce
	if req.Nonce, err = env.Chain.PendingNonce(ctx, from); err != nil {
		return types.Outcome{}, err
	}

	// 5. gas
	if req.Gas, err = env.Chain.EstimateGas(ctx, req); err != nil {
		return types.Outcome{}, wrapIfMissing(err, chain.ErrEstimateGas)
	}

	logger.Debug().
		Str("op", spec.Name).
		Str("to", req.To.Hex()).
		Str("value", req.Value.String()).
		Uint64("nonce", req.Nonce).
		Uint64("gas", req.Gas).
		Bool("dynamic_fee", req.Fees.IsDynamic()).
		Msg("submitting transaction")

	// 6. 送出
	hash, err := env.Chain.Submit(ctx, req, env.Wallet.PrivateKey)
	if err != nil {
		return types.Outcome{}, err
	}
	if hash == (common.Hash{}) {
		return types.Outcome{}, fmt.Errorf("%s: %w", spec.Name, chain.ErrNoTxHash)
	}
	return types.Success(hash.Hex()), nil
}

func checkBalance(spec Spec, bal chain.Amount) error {
	if spec.MinNative == 0 && !spec.Strict {
		return nil
	}
	have := bal.Float()
	if spec.Strict {
		if have <= spec.MinNative {
			return fmt.Errorf("%w: have %.6f, need more than %g", ErrInsufficientBalance, have, spec.MinNative)
		}
		return nil
	}
	if have < spec.MinNative {
		return fmt.Errorf("%w: have %.6f, need %g", ErrInsufficientBalance, have, spec.MinNative)
	}
	return nil
}

func wrapIfMissing(err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
