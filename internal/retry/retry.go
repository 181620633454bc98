// ============================================================================
// zerog-bots Retry - 指數退避重試執行器
// ============================================================================
//
// Package: internal/retry
// 文件: retry.go
// 功能: 包裝可能失敗的操作，失敗時依退避策略睡眠後重試
//
// 行為:
//   1. 執行 op，成功立即回傳
//   2. 失敗且仍有次數：記錄 attempt / op / delay，睡眠後重試
//      delay_n = Delay * Multiplier^(n-1)，可選 MaxDelay 上限與 Jitter
//   3. 次數用盡：Do 回傳最後的錯誤；DoDefault 回傳呼叫端提供的預設值
//
// 分類:
//   - Permanent(err) 包裝的錯誤立即停止，不消耗剩餘次數
//   - 「其實已完成」的錯誤不在這裡判斷，由呼叫端的動作在 op 內部轉成成功
//
// 取消:
//   睡眠透過 ctx 中斷，ctx 結束時回傳 ctx.Err()
//
// ============================================================================

package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrInvalidPolicy 策略參數不合法
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Op 被包裝的操作，attempt 從 1 開始
type Op[T any] func(ctx context.Context, attempt int) (T, error)

// SleepFunc 可中斷的睡眠
type SleepFunc func(ctx context.Context, d time.Duration) error

// Jitter 調整計算出的延遲
type Jitter func(d time.Duration) time.Duration

// Policy 重試策略；建立後不持有跨呼叫的可變狀態
type Policy struct {
	Attempts   int           // 最大嘗試次數（>= 1）
	Delay      time.Duration // 初始延遲
	Multiplier float64       // 退避倍數
	MaxDelay   time.Duration // 延遲上限，0 表示不設限
	Jitter     Jitter        // 可選
	Sleep      SleepFunc     // 預設為 Sleep

	// OnRetry 每次失敗且即將重試時呼叫（指標用）
	OnRetry func(name string, attempt int, err error)
}

// DefaultPolicy 3 次、1 秒、倍數 2
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Delay:      time.Second,
		Multiplier: 2,
	}
}

// Validate 檢查 attempts >= 1，delay 與 multiplier > 0
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("%w: attempts must be >= 1, got %d", ErrInvalidPolicy, p.Attempts)
	}
	if p.Delay <= 0 {
		return fmt.Errorf("%w: delay must be > 0, got %s", ErrInvalidPolicy, p.Delay)
	}
	if p.Multiplier <= 0 {
		return fmt.Errorf("%w: multiplier must be > 0, got %v", ErrInvalidPolicy, p.Multiplier)
	}
	return nil
}

// Backoff 計算第 attempt 次失敗後的延遲
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter != nil {
		d = p.Jitter(d)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Do 執行 op 直到成功、遇到 Permanent 錯誤或用盡次數
//
// 參數：
//   - ctx: 控制睡眠中斷；日誌取自 zerolog.Ctx(ctx)
//   - p: 重試策略
//   - name: 操作名稱，用於日誌
//   - op: 被包裝的操作
//
// 返回值：
//   - T: op 成功時的結果
//   - error: 最後一次的錯誤（Permanent 會被解包）
func Do[T any](ctx context.Context, p Policy, name string, op Op[T]) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := zerolog.Ctx(ctx)

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}

		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			logger.Error().Err(perm.err).Str("op", name).Int("attempt", attempt).Msg("non-retriable failure")
			return zero, perm.err
		}

		if attempt == p.Attempts {
			break
		}

		delay := p.Backoff(attempt)
		logger.Warn().
			Err(err).
			Str("op", name).
			Int("attempt", attempt).
			Int("attempts", p.Attempts).
			Dur("delay", delay).
			Msgf("attempt %d/%d failed for %s, retrying in %.1fs", attempt, p.Attempts, name, delay.Seconds())

		if p.OnRetry != nil {
			p.OnRetry(name, attempt, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
	}

	logger.Error().Err(lastErr).Str("op", name).Int("attempts", p.Attempts).
		Msgf("all %d attempts failed for %s", p.Attempts, name)
	return zero, lastErr
}

// DoDefault 與 Do 相同，但失敗時回傳 def 而不是錯誤
func DoDefault[T any](ctx context.Context, p Policy, name string, def T, op Op[T]) T {
	result, err := Do(ctx, p, name, op)
	if err != nil {
		return def
	}
	return result
}

// ============================================================================
// 不可重試錯誤
// ============================================================================

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 標記錯誤為不可重試
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判斷錯誤是否被標記為不可重試
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// ============================================================================
// 睡眠與 Jitter
// ============================================================================

// Sleep 可被 ctx 中斷的睡眠
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Between 忽略計算值，改取 [min, max] 之間的隨機延遲
func Between(min, max time.Duration) Jitter {
	return func(time.Duration) time.Duration {
		if max <= min {
			return min
		}
		return min + rand.N(max-min+1)
	}
}

// Additive 在 d 之上加 [0, spread] 的隨機延遲
func Additive(spread time.Duration) Jitter {
	return func(d time.Duration) time.Duration {
		if spread <= 0 {
			return d
		}
		return d + rand.N(spread+1)
	}
}

// Proportional 在 d 的 ±fraction 範圍內隨機
func Proportional(fraction float64) Jitter {
	return func(d time.Duration) time.Duration {
		if fraction <= 0 || d <= 0 {
			return d
		}
		spread := float64(d) * fraction
		return d + time.Duration((rand.Float64()*2-1)*spread)
	}
}
