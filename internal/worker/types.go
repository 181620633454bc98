package worker

import (
	"context"
	"time"
)

// Task 代表要執行的工作（一個錢包的完整流程）
type Task struct {
	ID      string                          // 任務唯一識別碼（通常是錢包地址）
	Index   int                             // 錢包序號
	Run     func(ctx context.Context) error // 實際執行邏輯
	Timeout time.Duration                   // 執行超時時間；0 表示不限制
}

// Result 代表任務執行結果
type Result struct {
	ID       string
	Index    int
	Success  bool          // 執行是否成功
	Error    error         // 錯誤訊息（如果有）
	Duration time.Duration // 實際執行時間
}
