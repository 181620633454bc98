// ============================================================================
// zerog-bots Accounts - 錢包輸入檔案
// ============================================================================
//
// Package: internal/accounts
// 文件: accounts.go
// 功能: 讀取私鑰、代理與 X token 檔案，組成 types.Wallet
//
// 檔案格式（每行一筆，空行與 # 開頭略過）:
//   private_keys.txt    十六進位私鑰，可帶 0x
//   proxies.txt         user:pass@host:port 或完整 URL；少於錢包數時循環使用
//   twitter_tokens.txt  X auth_token cookie；依順序對應錢包，不足者為空
//
// 錢包序號從 1 開始，依私鑰在檔案中的順序。
//
// ============================================================================

package accounts

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

var (
	ErrNoKeys     = errors.New("no private keys found")
	ErrInvalidKey = errors.New("invalid private key")
)

// Load 依 files 設定讀入所有錢包；代理與 token 檔案不存在時視為空
func Load(files config.Files) ([]types.Wallet, error) {
	keys, err := ReadLines(files.PrivateKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to read private keys: %w", err)
	}
	proxies, err := readOptional(files.Proxies)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxies: %w", err)
	}
	tokens, err := readOptional(files.TwitterTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to read twitter tokens: %w", err)
	}

	wallets, err := Build(keys, proxies, tokens)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("wallets", len(wallets)).
		Int("proxies", len(proxies)).
		Int("twitter_tokens", len(tokens)).
		Msg("loaded accounts")
	return wallets, nil
}

// Build 將私鑰、代理與 token 組成錢包
func Build(keys, proxies, tokens []string) ([]types.Wallet, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	wallets := make([]types.Wallet, 0, len(keys))
	for i, raw := range keys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"))
		if err != nil {
			// 不把私鑰內容放進錯誤訊息
			return nil, fmt.Errorf("%w: line %d", ErrInvalidKey, i+1)
		}

		w := types.Wallet{
			Index:      i + 1,
			Address:    crypto.PubkeyToAddress(key.PublicKey),
			PrivateKey: key,
		}
		if len(proxies) > 0 {
			w.Proxy = NormalizeProxy(proxies[i%len(proxies)])
		}
		if i < len(tokens) {
			w.TwitterToken = tokens[i]
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// NormalizeProxy 沒有 scheme 的代理補上 http://
func NormalizeProxy(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.Contains(p, "://") {
		return p
	}
	return "http://" + p
}

// ReadLines 讀取非空、非註解的行
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func readOptional(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	lines, err := ReadLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return lines, err
}
