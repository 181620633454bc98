// Package outcome 將後端回傳的「錯誤」分類為明確的結果
//
// 遠端服務唯一提供的訊號是錯誤字串，例如 faucet 回傳 "Wait 24 hours"：
// 代表目標狀態早已成立，應視為成功而不是失敗，也不應觸發重試。
package outcome

import (
	"strings"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// 預設的標記字串（比對時不分大小寫）
var (
	// FaucetMarkers 當日已領取
	FaucetMarkers = []string{"wait 24 hours", "already requested"}

	// ActivityMarkers 任務已完成
	ActivityMarkers = []string{"user has already completed the activity"}
)

// Match 回傳 text 中第一個符合的標記
func Match(text string, markers []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}

// Classify 將錯誤轉為結果
//
// 符合標記時回傳 AlreadyDone 與 true；否則回傳 Failure 與 false。
// err 為 nil 時回傳 Success。
func Classify(err error, markers []string) (types.Outcome, bool) {
	if err == nil {
		return types.Success(""), false
	}
	if m, ok := Match(err.Error(), markers); ok {
		return types.AlreadyDone(m), true
	}
	return types.Failure(err.Error()), false
}
