package action

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/zerog-bots/internal/chain"
	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/internal/module"
	"github.com/ChuLiYu/zerog-bots/internal/retry"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// fake chain
// ============================================================================

type fakeChain struct {
	mu sync.Mutex

	balance *big.Int
	tokens  map[common.Address][]*big.Int // 依序回傳，最後一個值重複使用
	fees    chain.FeeParams
	feeErr  error

	estimateErr error
	// submitErr 依目標地址決定錯誤；回傳 nil 表示成功
	submitErr func(req chain.TxRequest, n int) error

	calls     map[string]int
	submitted []chain.TxRequest
	approved  []*big.Int
}

func newFakeChain(balance float64) *fakeChain {
	return &fakeChain{
		balance: chain.ToWei(balance, 18),
		tokens:  make(map[common.Address][]*big.Int),
		fees:    chain.FeeParams{GasPrice: big.NewInt(1_000_000_000)},
		calls:   make(map[string]int),
	}
}

func (f *fakeChain) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeChain) inc(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(16601), nil }

func (f *fakeChain) Balance(context.Context, common.Address) (chain.Amount, error) {
	f.inc("Balance")
	return chain.NewAmount(new(big.Int).Set(f.balance), 18), nil
}

func (f *fakeChain) TokenBalance(_ context.Context, _ common.Address, token common.Address, decimals int) (chain.Amount, error) {
	f.inc("TokenBalance")
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.tokens[token]
	if len(seq) == 0 {
		return chain.NewAmount(new(big.Int), decimals), nil
	}
	v := seq[0]
	if len(seq) > 1 {
		f.tokens[token] = seq[1:]
	}
	return chain.NewAmount(v, decimals), nil
}

func (f *fakeChain) FeeParams(context.Context) (chain.FeeParams, error) {
	f.inc("FeeParams")
	if f.feeErr != nil {
		return chain.FeeParams{}, f.feeErr
	}
	return f.fees, nil
}

func (f *fakeChain) PendingNonce(context.Context, common.Address) (uint64, error) {
	return uint64(f.inc("PendingNonce")), nil
}

func (f *fakeChain) EstimateGas(context.Context, chain.TxRequest) (uint64, error) {
	f.inc("EstimateGas")
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100000, nil
}

func (f *fakeChain) Submit(_ context.Context, req chain.TxRequest, _ *ecdsa.PrivateKey) (common.Hash, error) {
	n := f.inc("Submit")
	if f.submitErr != nil {
		if err := f.submitErr(req, n); err != nil {
			return common.Hash{}, err
		}
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	f.mu.Unlock()
	return common.BigToHash(big.NewInt(int64(n))), nil
}

func (f *fakeChain) Approve(_ context.Context, _ *ecdsa.PrivateKey, _, _ common.Address, amount *big.Int) (common.Hash, error) {
	f.inc("Approve")
	f.mu.Lock()
	f.approved = append(f.approved, amount)
	f.mu.Unlock()
	return common.HexToHash("0xaa"), nil
}

// ============================================================================
// helpers
// ============================================================================

type sleepLog struct {
	mu     sync.Mutex
	values []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, d)
	return nil
}

func newEnv(t *testing.T, fc *fakeChain) (*module.Env, *sleepLog) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	pauses := &sleepLog{}
	cfg := config.Default()
	cfg.Settings.PauseBetweenSwaps = config.R(2, 2)

	return &module.Env{
		Wallet: types.Wallet{Index: 1, Address: crypto.PubkeyToAddress(key.PublicKey), PrivateKey: key},
		Chain:  fc,
		Config: cfg,
		Policy: retry.Policy{
			Attempts:   3,
			Delay:      time.Millisecond,
			Multiplier: 1,
			Sleep:      func(context.Context, time.Duration) error { return nil },
		},
		Sleep: pauses.sleep,
	}, pauses
}

// ============================================================================
// template
// ============================================================================

func TestLowBalanceFailsWithoutFeeResolution(t *testing.T) {
	fc := newFakeChain(0.001)
	env, _ := newEnv(t, fc)

	res := RunOnchainGM(context.Background(), env)

	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "insufficient balance")
	assert.Equal(t, 1, fc.count("Balance"), "insufficient balance must not be retried")
	assert.Equal(t, 0, fc.count("FeeParams"))
	assert.Equal(t, 0, fc.count("Submit"))
}

func TestAlreadyRequestedIsSuccessWithoutRetry(t *testing.T) {
	fc := newFakeChain(1)
	fc.submitErr = func(chain.TxRequest, int) error {
		return errors.New("execution reverted: Already requested, Wait 24 hours")
	}
	env, _ := newEnv(t, fc)

	res := RunTradeGPTFaucet(context.Background(), env)

	assert.True(t, res.OK())
	assert.Equal(t, types.OutcomeAlreadyDone, res.Kind)
	assert.Equal(t, 1, fc.count("Submit"))
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	fc := newFakeChain(1)
	fc.submitErr = func(_ chain.TxRequest, n int) error {
		if n < 3 {
			return errors.New("nonce too low")
		}
		return nil
	}
	env, _ := newEnv(t, fc)

	res := RunTradeGPTFaucet(context.Background(), env)

	assert.Equal(t, types.OutcomeSuccess, res.Kind)
	assert.NotEmpty(t, res.TxHash)
	assert.Equal(t, 3, fc.count("Submit"))
}

func TestExhaustedAttemptsFail(t *testing.T) {
	fc := newFakeChain(1)
	fc.submitErr = func(chain.TxRequest, int) error { return errors.New("connection refused") }
	env, _ := newEnv(t, fc)

	res := RunTradeGPTFaucet(context.Background(), env)

	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "connection refused")
	assert.Equal(t, 3, fc.count("Submit"))
}

func TestFeeFailureStopsBeforeEstimate(t *testing.T) {
	fc := newFakeChain(1)
	fc.feeErr = errors.New("rpc timeout")
	env, _ := newEnv(t, fc)

	res := RunTradeGPTFaucet(context.Background(), env)

	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "failed to get gas parameters")
	assert.Equal(t, 0, fc.count("EstimateGas"))
}

func TestEstimateFailureIsDistinct(t *testing.T) {
	fc := newFakeChain(1)
	fc.estimateErr = errors.New("execution reverted")
	env, _ := newEnv(t, fc)

	res := Execute(context.Background(), env, Spec{
		Name:  "probe",
		Build: Static(Call{To: common.HexToAddress("0x01")}),
	})

	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "error estimating gas")
	assert.Equal(t, 0, fc.count("Submit"))
}

func TestRequestCarriesFeesNonceAndChainID(t *testing.T) {
	fc := newFakeChain(1)
	fc.fees = chain.FeeParams{MaxFee: big.NewInt(20), PriorityFee: big.NewInt(2)}
	env, _ := newEnv(t, fc)

	res := RunOnchainGM(context.Background(), env)
	require.True(t, res.OK())
	require.Len(t, fc.submitted, 1)

	req := fc.submitted[0]
	assert.True(t, req.Fees.IsDynamic())
	assert.Equal(t, int64(16601), req.ChainID.Int64())
	assert.Equal(t, uint64(1), req.Nonce)
	assert.Equal(t, uint64(100000), req.Gas)
	assert.Zero(t, chain.ToWei(0.00029, 18).Cmp(req.Value))
	assert.Equal(t, env.Config.Contracts.OnchainGMData, hexutil.Encode(req.Data))
}

// ============================================================================
// modules
// ============================================================================

func TestJaineFaucetPartialFailure(t *testing.T) {
	fc := newFakeChain(1)
	env, pauses := newEnv(t, fc)
	usdt := common.HexToAddress(env.Config.Contracts.JaineTokens[1].Address)
	fc.submitErr = func(req chain.TxRequest, _ int) error {
		if req.To == usdt {
			return errors.New("execution reverted")
		}
		return nil
	}

	res := RunJaineFaucet(context.Background(), env)

	assert.True(t, res.OK())
	assert.Len(t, fc.submitted, 2)
	// 3 for the failing token, 1 each for the others
	assert.Equal(t, 5, fc.count("Submit"))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, pauses.values)
}

func TestJaineFaucetAllFail(t *testing.T) {
	fc := newFakeChain(1)
	fc.submitErr = func(chain.TxRequest, int) error { return errors.New("reverted") }
	env, _ := newEnv(t, fc)

	assert.False(t, RunJaineFaucet(context.Background(), env).OK())
}

func TestJaineFaucetDailyLimitCountsAsSuccess(t *testing.T) {
	fc := newFakeChain(1)
	fc.submitErr = func(chain.TxRequest, int) error { return errors.New("Wait 24 hours") }
	env, _ := newEnv(t, fc)

	assert.True(t, RunJaineFaucet(context.Background(), env).OK())
	assert.Equal(t, 3, fc.count("Submit"))
}

func TestTradeGPTStakingRequestsFaucetFirst(t *testing.T) {
	fc := newFakeChain(1)
	env, pauses := newEnv(t, fc)
	c := env.Config.Contracts
	usdt := common.HexToAddress(c.StakingUSDT)
	fc.tokens[usdt] = []*big.Int{big.NewInt(0), chain.ToWei(10, 18)}

	res := RunTradeGPTStaking(context.Background(), env)
	require.True(t, res.OK(), res.Reason)

	require.Len(t, fc.submitted, 2)
	assert.Equal(t, common.HexToAddress(c.TradeGPTFaucet), fc.submitted[0].To)
	assert.Equal(t, common.HexToAddress(c.TradeGPTStaking), fc.submitted[1].To)
	assert.True(t, strings.HasPrefix(hexutil.Encode(fc.submitted[1].Data), c.DepositSelector))
	assert.Contains(t, pauses.values, faucetRecheckDelay)

	require.Len(t, fc.approved, 1)
	approved := chain.FromWei(fc.approved[0], 18)
	assert.GreaterOrEqual(t, approved, 5.0)
	assert.LessOrEqual(t, approved, 9.0)
}

func TestTradeGPTStakingFaucetFailure(t *testing.T) {
	fc := newFakeChain(1)
	fc.submitErr = func(chain.TxRequest, int) error { return errors.New("reverted") }
	env, _ := newEnv(t, fc)

	res := RunTradeGPTStaking(context.Background(), env)
	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "prerequisite")
	assert.Equal(t, 0, fc.count("Approve"))
}

func TestAstrostakeStakesPercentOfAvailable(t *testing.T) {
	fc := newFakeChain(1)
	env, _ := newEnv(t, fc)
	env.Config.Staking.Astrostake.BalancePercentToStake = config.R(10, 10)

	res := RunAstrostakeStaking(context.Background(), env)
	require.True(t, res.OK(), res.Reason)
	require.Len(t, fc.submitted, 1)

	req := fc.submitted[0]
	available := new(big.Int).Sub(chain.ToWei(1, 18), chain.ToWei(0.00001, 18))
	assert.Zero(t, chain.Percent(available, 10).Cmp(req.Value))

	var known []string
	for _, a := range env.Config.Contracts.AstrostakeContracts {
		known = append(known, strings.ToLower(a))
	}
	assert.Contains(t, known, strings.ToLower(req.To.Hex()))

	want := "0x5c19a95c" + strings.Repeat("0", 24) + strings.ToLower(env.Wallet.Address.Hex()[2:])
	assert.Equal(t, want, hexutil.Encode(req.Data))
}

func TestAstrostakeRequiresMoreThanReserve(t *testing.T) {
	fc := newFakeChain(0.00001)
	env, _ := newEnv(t, fc)

	assert.False(t, RunAstrostakeStaking(context.Background(), env).OK())
	assert.Equal(t, 0, fc.count("FeeParams"))
}

func TestMorkieAlreadyHeld(t *testing.T) {
	fc := newFakeChain(1)
	env, _ := newEnv(t, fc)
	fc.tokens[common.HexToAddress(env.Config.Contracts.Morkie)] = []*big.Int{big.NewInt(1)}

	res := RunMorkieMint(context.Background(), env)

	assert.Equal(t, types.OutcomeAlreadyDone, res.Kind)
	assert.Equal(t, 0, fc.count("Balance"))
	assert.Equal(t, 0, fc.count("Submit"))
}

func TestMorkieMintSplicesAddress(t *testing.T) {
	fc := newFakeChain(0.5)
	env, _ := newEnv(t, fc)

	res := RunMorkieMint(context.Background(), env)
	require.True(t, res.OK(), res.Reason)
	require.Len(t, fc.submitted, 1)

	data := hexutil.Encode(fc.submitted[0].Data)
	assert.True(t, strings.HasPrefix(data, "0x84bb1e42"))
	assert.Contains(t, data, strings.ToLower(env.Wallet.Address.Hex()[2:]))
	assert.NotContains(t, data, config.AddressPlaceholder)
}

func TestMorkieZeroBalance(t *testing.T) {
	fc := newFakeChain(0)
	env, _ := newEnv(t, fc)

	assert.False(t, RunMorkieMint(context.Background(), env).OK())
	assert.Equal(t, 0, fc.count("FeeParams"))
}

func TestModulesRegistry(t *testing.T) {
	reg, err := module.NewRegistry(Modules()...)
	require.NoError(t, err)
	assert.Equal(t, []string{
		AstrostakeStaking, JaineFaucet, MorkieMint, OnchainGM, TradeGPTFaucet, TradeGPTStaking,
	}, reg.Names())
}
