package controller

import (
	"math/rand/v2"

	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// SelectWallets 依設定選出本次要執行的錢包
//
// 優先順序：exact_accounts_to_use（依列出順序）> accounts_range（[0,0] 表示全部）。
// shuffle_wallets 為 true 時打亂結果；回傳的是新切片。
func SelectWallets(all []types.Wallet, s config.Settings, rng *rand.Rand) []types.Wallet {
	byIndex := make(map[int]types.Wallet, len(all))
	for _, w := range all {
		byIndex[w.Index] = w
	}

	var out []types.Wallet
	switch {
	case len(s.ExactAccountsToUse) > 0:
		seen := make(map[int]bool, len(s.ExactAccountsToUse))
		for _, idx := range s.ExactAccountsToUse {
			if w, ok := byIndex[idx]; ok && !seen[idx] {
				out = append(out, w)
				seen[idx] = true
			}
		}
	case s.AccountsRange.Min == 0 && s.AccountsRange.Max == 0:
		out = append(out, all...)
	default:
		for _, w := range all {
			if w.Index >= s.AccountsRange.Min && w.Index <= s.AccountsRange.Max {
				out = append(out, w)
			}
		}
	}

	if s.ShuffleWallets {
		swap := func(i, j int) { out[i], out[j] = out[j], out[i] }
		if rng != nil {
			rng.Shuffle(len(out), swap)
		} else {
			rand.Shuffle(len(out), swap)
		}
	}
	return out
}
