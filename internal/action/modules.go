package action

import (
	"context"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ChuLiYu/zerog-bots/internal/chain"
	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/internal/module"
	"github.com/ChuLiYu/zerog-bots/internal/outcome"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// 模組名稱
const (
	JaineFaucet       = "jaine_faucet"
	TradeGPTFaucet    = "tradegpt_faucet"
	TradeGPTStaking   = "tradegpt_staking"
	AstrostakeStaking = "astrostake_staking"
	OnchainGM         = "onchaingm"
	MorkieMint        = "morkie_mint"
)

// 各動作的原生幣門檻
const (
	minNativeForFees   = 0.00001
	minNativeOnchainGM = 0.003
	astrostakeReserve  = 0.00001
	minStakingUSDT     = 1.0
)

// faucetRecheckDelay 領完 faucet 後重新查詢餘額前的等待
var faucetRecheckDelay = 5 * time.Second

// Modules 所有鏈上模組
func Modules() []module.Module {
	return []module.Module{
		module.Func{ModuleName: JaineFaucet, Fn: RunJaineFaucet},
		module.Func{ModuleName: TradeGPTFaucet, Fn: RunTradeGPTFaucet},
		module.Func{ModuleName: TradeGPTStaking, Fn: RunTradeGPTStaking},
		module.Func{ModuleName: AstrostakeStaking, Fn: RunAstrostakeStaking},
		module.Func{ModuleName: OnchainGM, Fn: RunOnchainGM},
		module.Func{ModuleName: MorkieMint, Fn: RunMorkieMint},
	}
}

// ============================================================================
// Jaine faucet
// ============================================================================

// RunJaineFaucet 依序 mint 每個測試代幣；至少一個成功即算成功
func RunJaineFaucet(ctx context.Context, env *module.Env) types.Outcome {
	logger := zerolog.Ctx(ctx)
	c := env.Config.Contracts

	bal, err := env.Chain.Balance(ctx, env.Wallet.Address)
	if err != nil {
		return types.Failure(err.Error())
	}
	if err := checkBalance(Spec{MinNative: minNativeForFees}, bal); err != nil {
		logger.Error().Err(err).Msg("jaine faucet skipped")
		return types.Failure(err.Error())
	}

	selector := common.FromHex(c.MintSelector)
	succeeded := 0
	var lastTx string
	for _, token := range c.JaineTokens {
		res := Execute(ctx, env, Spec{
			Name:    "jaine_mint_" + strings.ToLower(token.Name),
			Markers: outcome.FaucetMarkers,
			Build:   Static(Call{To: common.HexToAddress(token.Address), Data: selector}),
		})
		if res.OK() {
			succeeded++
			if res.TxHash != "" {
				lastTx = res.TxHash
			}
		} else {
			logger.Error().Str("token", token.Name).Str("reason", res.Reason).Msg("token mint failed")
		}

		if err := env.Pause(ctx, env.Config.Settings.PauseBetweenSwaps); err != nil {
			return types.Failure(err.Error())
		}
	}

	if succeeded == 0 {
		logger.Warn().Msg("all token faucets failed")
		return types.Failure("all token faucets failed")
	}
	logger.Info().Msgf("token faucets completed (%d/%d)", succeeded, len(c.JaineTokens))
	return types.Success(lastTx)
}

// ============================================================================
// TradeGPT
// ============================================================================

// RunTradeGPTFaucet requestTokens()
func RunTradeGPTFaucet(ctx context.Context, env *module.Env) types.Outcome {
	c := env.Config.Contracts
	return Execute(ctx, env, Spec{
		Name:      TradeGPTFaucet,
		MinNative: minNativeForFees,
		Markers:   outcome.FaucetMarkers,
		Build: Static(Call{
			To:   common.HexToAddress(c.TradeGPTFaucet),
			Data: common.FromHex(c.RequestTokensSelector),
		}),
	})
}

// RunTradeGPTStaking 將 50-90% 的 staking USDT 存入；不足 1 USDT 時先領 faucet
func RunTradeGPTStaking(ctx context.Context, env *module.Env) types.Outcome {
	c := env.Config.Contracts
	return Execute(ctx, env, Spec{
		Name:      TradeGPTStaking,
		MinNative: minNativeForFees,
		Build: func(ctx context.Context, env *module.Env, _ chain.Amount) (Call, error) {
			logger := zerolog.Ctx(ctx)
			token := common.HexToAddress(c.StakingUSDT)
			staking := common.HexToAddress(c.TradeGPTStaking)

			usdt, err := env.Chain.TokenBalance(ctx, env.Wallet.Address, token, c.StakingUSDTDecimals)
			if err != nil {
				return Call{}, err
			}

			if usdt.Float() < minStakingUSDT {
				logger.Info().Float64("usdt", usdt.Float()).Msg("staking USDT below 1, requesting from faucet")
				if res := RunTradeGPTFaucet(ctx, env); !res.OK() {
					return Call{}, fmt.Errorf("%w: failed to get USDT from faucet: %s", ErrPrerequisite, res.Reason)
				}
				if err := env.SleepFor(ctx, faucetRecheckDelay); err != nil {
					return Call{}, err
				}
				if usdt, err = env.Chain.TokenBalance(ctx, env.Wallet.Address, token, c.StakingUSDTDecimals); err != nil {
					return Call{}, err
				}
			}
			if usdt.IsZero() {
				return Call{}, fmt.Errorf("%w: no USDT balance found after faucet", ErrPrerequisite)
			}

			pct := config.R(50, 90).Pick()
			amount := chain.Percent(usdt.Raw, pct)
			logger.Info().Int("percent", pct).Str("amount", amount.String()).Msg("depositing USDT")

			if _, err := env.Chain.Approve(ctx, env.Wallet.PrivateKey, token, staking, amount); err != nil {
				return Call{}, fmt.Errorf("failed to approve USDT: %w", err)
			}

			data, err := chain.EncodeCall(c.DepositSelector, amount)
			if err != nil {
				return Call{}, err
			}
			return Call{To: staking, Data: data}, nil
		},
	})
}

// ============================================================================
// Astrostake
// ============================================================================

// RunAstrostakeStaking stake(self) 並附上 (餘額 - 保留額) 的設定比例
func RunAstrostakeStaking(ctx context.Context, env *module.Env) types.Outcome {
	c := env.Config.Contracts
	return Execute(ctx, env, Spec{
		Name:      AstrostakeStaking,
		MinNative: astrostakeReserve,
		Strict:    true,
		Build: func(ctx context.Context, env *module.Env, bal chain.Amount) (Call, error) {
			if len(c.AstrostakeContracts) == 0 {
				return Call{}, fmt.Errorf("no astrostake contracts configured")
			}

			pct := env.Config.Staking.Astrostake.BalancePercentToStake.Pick()
			available := new(big.Int).Sub(bal.Raw, chain.ToWei(astrostakeReserve, chain.NativeDecimals))
			amount := chain.Percent(available, pct)
			if amount.Sign() <= 0 {
				return Call{}, fmt.Errorf("%w: stake amount is zero", ErrInsufficientBalance)
			}

			target := common.HexToAddress(c.AstrostakeContracts[rand.IntN(len(c.AstrostakeContracts))])
			data, err := chain.EncodeCall(c.StakeSelector, env.Wallet.Address)
			if err != nil {
				return Call{}, err
			}

			zerolog.Ctx(ctx).Info().
				Int("percent", pct).
				Float64("amount", chain.FromWei(amount, chain.NativeDecimals)).
				Str("contract", target.Hex()).
				Msg("staking native token")
			return Call{To: target, Value: amount, Data: data}, nil
		},
	})
}

// ============================================================================
// Mints
// ============================================================================

// RunOnchainGM 固定 call data，附 0.00029 原生幣
func RunOnchainGM(ctx context.Context, env *module.Env) types.Outcome {
	c := env.Config.Contracts
	return Execute(ctx, env, Spec{
		Name:      OnchainGM,
		MinNative: minNativeOnchainGM,
		Build: Static(Call{
			To:    common.HexToAddress(c.OnchainGM),
			Value: chain.ToWei(c.OnchainGMValue, chain.NativeDecimals),
			Data:  common.FromHex(c.OnchainGMData),
		}),
	})
}

// RunMorkieMint 錢包已持有 NFT 時略過；否則以錢包地址填入 claim call data
func RunMorkieMint(ctx context.Context, env *module.Env) types.Outcome {
	c := env.Config.Contracts
	nft := common.HexToAddress(c.Morkie)
	return Execute(ctx, env, Spec{
		Name:   MorkieMint,
		Strict: true,
		Skip: func(ctx context.Context, env *module.Env) (types.Outcome, bool, error) {
			held, err := env.Chain.TokenBalance(ctx, env.Wallet.Address, nft, 0)
			if err != nil {
				return types.Outcome{}, false, err
			}
			if !held.IsZero() {
				return types.AlreadyDone(fmt.Sprintf("wallet already has %s NFT", held.Raw)), true, nil
			}
			return types.Outcome{}, false, nil
		},
		Build: func(ctx context.Context, env *module.Env, _ chain.Amount) (Call, error) {
			return Call{To: nft, Data: MorkieCallData(c.MorkieClaimData, env.Wallet.Address)}, nil
		},
	})
}

// MorkieCallData 將 {address} 替換為小寫、不含 0x 的地址
func MorkieCallData(template string, addr common.Address) []byte {
	hexAddr := strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x"))
	return common.FromHex(strings.ReplaceAll(template, config.AddressPlaceholder, hexAddr))
}
