// ============================================================================
// zerog-bots Chain - 區塊鏈客戶端介面
// ============================================================================
//
// Package: internal/chain
// 文件: chain.go
// 功能: 動作模組使用的鏈上操作介面，以及 go-ethereum 實作（eth.go）
//
// 介面方法對應 ChainActionTemplate 的每一步:
//   Balance / TokenBalance   檢查原生幣與代幣餘額
//   FeeParams                legacy gas price 或 EIP-1559 (maxFee, tip)
//   PendingNonce             包含 pending 的 nonce，避免連續送出時衝突
//   EstimateGas              估算 gas（錯誤與送出錯誤分開）
//   Submit                   簽名、送出並等待上鏈
//   Approve                  ERC-20 approve
//
// ============================================================================

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrFeeParams 無法取得手續費參數
	ErrFeeParams = errors.New("failed to get gas parameters")
	// ErrEstimateGas gas 估算失敗
	ErrEstimateGas = errors.New("error estimating gas")
	// ErrTxReverted 交易上鏈但狀態為失敗
	ErrTxReverted = errors.New("transaction reverted")
	// ErrNoTxHash 送出後沒有取得交易雜湊
	ErrNoTxHash = errors.New("transaction submission returned no hash")
)

// Client 鏈上操作介面
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context, addr common.Address) (Amount, error)
	TokenBalance(ctx context.Context, owner, token common.Address, decimals int) (Amount, error)
	FeeParams(ctx context.Context) (FeeParams, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	EstimateGas(ctx context.Context, req TxRequest) (uint64, error)
	Submit(ctx context.Context, req TxRequest, key *ecdsa.PrivateKey) (common.Hash, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error)
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Amount 以最小單位保存的數量與小數位數
type Amount struct {
	Raw      *big.Int
	Decimals int
}

// NewAmount 建立數量
func NewAmount(raw *big.Int, decimals int) Amount {
	if raw == nil {
		raw = new(big.Int)
	}
	return Amount{Raw: raw, Decimals: decimals}
}

// Float 轉為浮點數（只用於比較門檻與日誌）
func (a Amount) Float() float64 {
	return FromWei(a.Raw, a.Decimals)
}

// IsZero 是否為零
func (a Amount) IsZero() bool {
	return a.Raw == nil || a.Raw.Sign() == 0
}

// FeeParams 手續費參數；MaxFee 與 PriorityFee 同時存在時為 EIP-1559 交易
type FeeParams struct {
	GasPrice    *big.Int
	MaxFee      *big.Int
	PriorityFee *big.Int
}

// IsDynamic 是否為 fee-market 類型
func (f FeeParams) IsDynamic() bool {
	return f.MaxFee != nil && f.PriorityFee != nil
}

// TxRequest 組裝好的交易請求
type TxRequest struct {
	From    common.Address
	To      common.Address
	Value   *big.Int
	Data    []byte
	Nonce   uint64
	ChainID *big.Int
	Fees    FeeParams
	Gas     uint64
}
