package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
)

// NativeDecimals 原生幣小數位數
const NativeDecimals = 18

// DialOptions RPC 連線選項
type DialOptions struct {
	URL            string
	Proxy          string
	Insecure       bool
	Timeout        time.Duration
	ReceiptTimeout time.Duration
}

// EthClient go-ethereum 實作的 Client
type EthClient struct {
	rpc            *ethclient.Client
	receiptTimeout time.Duration
}

// Dial 建立 RPC 連線；Proxy 為空時直連
func Dial(ctx context.Context, opts DialOptions) (*EthClient, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.Insecure}, //nolint:gosec // testnet RPCs with self-signed certs
	}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	httpClient := &http.Client{Transport: transport, Timeout: opts.Timeout}
	rc, err := rpc.DialOptions(ctx, opts.URL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", opts.URL, err)
	}

	return &EthClient{rpc: ethclient.NewClient(rc), receiptTimeout: opts.ReceiptTimeout}, nil
}

// Close 關閉連線
func (c *EthClient) Close() {
	c.rpc.Close()
}

// ChainID 鏈 ID
func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id, nil
}

// Balance 原生幣餘額
func (c *EthClient) Balance(ctx context.Context, addr common.Address) (Amount, error) {
	bal, err := c.rpc.BalanceAt(ctx, addr, nil)
	if err != nil {
		return Amount{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return NewAmount(bal, NativeDecimals), nil
}

// TokenBalance ERC-20 餘額
func (c *EthClient) TokenBalance(ctx context.Context, owner, token common.Address, decimals int) (Amount, error) {
	data, err := ERC20.Pack("balanceOf", owner)
	if err != nil {
		return Amount{}, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return Amount{}, fmt.Errorf("failed to call balanceOf on %s: %w", token.Hex(), err)
	}
	bal, err := decodeUint256("balanceOf", out)
	if err != nil {
		return Amount{}, err
	}
	return NewAmount(bal, decimals), nil
}

// FeeParams 有 base fee 時回傳 (tip + 2*base, tip)，否則回傳 legacy gas price
func (c *EthClient) FeeParams(ctx context.Context) (FeeParams, error) {
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeParams{}, fmt.Errorf("%w: %v", ErrFeeParams, err)
	}

	if head.BaseFee != nil {
		tip, err := c.rpc.SuggestGasTipCap(ctx)
		if err != nil {
			return FeeParams{}, fmt.Errorf("%w: %v", ErrFeeParams, err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		return FeeParams{MaxFee: feeCap, PriorityFee: tip}, nil
	}

	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return FeeParams{}, fmt.Errorf("%w: %v", ErrFeeParams, err)
	}
	return FeeParams{GasPrice: price}, nil
}

// PendingNonce 包含 pending 交易的 nonce
func (c *EthClient) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// EstimateGas 估算 gas
func (c *EthClient) EstimateGas(ctx context.Context, req TxRequest) (uint64, error) {
	to := req.To
	gas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &to,
		Value: req.Value,
		Data:  req.Data,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEstimateGas, err)
	}
	return gas, nil
}

// Submit 簽名並送出交易，等待 receipt
func (c *EthClient) Submit(ctx context.Context, req TxRequest, key *ecdsa.PrivateKey) (common.Hash, error) {
	tx := buildTx(req)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(req.ChainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	log.Debug().Str("tx", signed.Hash().Hex()).Uint64("nonce", req.Nonce).Msg("transaction sent")

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.rpc, signed)
	if err != nil {
		return signed.Hash(), fmt.Errorf("failed to wait for receipt of %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return signed.Hash(), fmt.Errorf("%w: %s", ErrTxReverted, signed.Hash().Hex())
	}
	return signed.Hash(), nil
}

// Approve ERC-20 approve(spender, amount)
func (c *EthClient) Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := ERC20.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve: %w", err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	req := TxRequest{From: from, To: token, Value: new(big.Int), Data: data}
	if req.ChainID, err = c.ChainID(ctx); err != nil {
		return common.Hash{}, err
	}
	if req.Fees, err = c.FeeParams(ctx); err != nil {
		return common.Hash{}, err
	}
	if req.Nonce, err = c.PendingNonce(ctx, from); err != nil {
		return common.Hash{}, err
	}
	if req.Gas, err = c.EstimateGas(ctx, req); err != nil {
		return common.Hash{}, err
	}
	return c.Submit(ctx, req, key)
}

// buildTx 依手續費類型建立 legacy 或 EIP-1559 交易
func buildTx(req TxRequest) *gethtypes.Transaction {
	to := req.To
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	if req.Fees.IsDynamic() {
		return gethtypes.NewTx(&gethtypes.DynamicFeeTx{
			ChainID:   req.ChainID,
			Nonce:     req.Nonce,
			GasTipCap: req.Fees.PriorityFee,
			GasFeeCap: req.Fees.MaxFee,
			Gas:       req.Gas,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		})
	}
	return gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: req.Fees.GasPrice,
		Gas:      req.Gas,
		To:       &to,
		Value:    value,
		Data:     req.Data,
	})
}
