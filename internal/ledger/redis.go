package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// RedisLedger 以 Redis 為後端的帳本
//
// 鍵配置（prefix 預設 "zerog:referral"）：
//
//	{prefix}:order    LIST  推薦碼插入順序（AcquireCode 依此順序掃描）
//	{prefix}:owners   HASH  code -> wallet
//	{prefix}:invites  HASH  code -> 使用次數
//
// 遞增與新增都以 Lua script 在 Redis 端原子完成，不需要行程內的鎖。
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

// 只有已存在的 code 才遞增，否則回傳 -1
var incrScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
end
return -1
`)

// HSETNX 成功才寫入 invites 與 order
var addScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('HSET', KEYS[2], ARGV[1], 0)
  redis.call('RPUSH', KEYS[3], ARGV[1])
  return 1
end
return 0
`)

// NewRedisLedger 建立 Redis 帳本
func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "zerog:referral"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) orderKey() string   { return l.prefix + ":order" }
func (l *RedisLedger) ownersKey() string  { return l.prefix + ":owners" }
func (l *RedisLedger) invitesKey() string { return l.prefix + ":invites" }

// AcquireCode 依插入順序回傳第一個 invites < maxInvites 的推薦碼
func (l *RedisLedger) AcquireCode(ctx context.Context, maxInvites int) (string, bool, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return "", false, err
	}
	for _, r := range records {
		if r.Invites < maxInvites {
			return r.Code, true, nil
		}
	}
	return "", false, nil
}

// RecordUsage 原子遞增
func (l *RedisLedger) RecordUsage(ctx context.Context, code string) error {
	n, err := incrScript.Run(ctx, l.client, []string{l.invitesKey()}, code).Int64()
	if err != nil {
		return fmt.Errorf("failed to increment referral code %s: %w", code, err)
	}
	if n < 0 {
		return fmt.Errorf("%w: %s", ErrCodeNotFound, code)
	}
	return nil
}

// AddNewCode 推薦碼不存在時新增
func (l *RedisLedger) AddNewCode(ctx context.Context, wallet, code string) (bool, error) {
	if err := validateField("wallet", wallet); err != nil {
		return false, err
	}
	if err := validateField("code", code); err != nil {
		return false, err
	}

	n, err := addScript.Run(ctx, l.client,
		[]string{l.ownersKey(), l.invitesKey(), l.orderKey()}, code, wallet).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to add referral code %s: %w", code, err)
	}
	return n == 1, nil
}

// Records 以單一 MULTI/EXEC 讀取三個鍵，回傳一致的快照
func (l *RedisLedger) Records(ctx context.Context) ([]types.ReferralRecord, error) {
	var (
		orderCmd   *redis.StringSliceCmd
		ownersCmd  *redis.MapStringStringCmd
		invitesCmd *redis.MapStringStringCmd
	)

	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		orderCmd = pipe.LRange(ctx, l.orderKey(), 0, -1)
		ownersCmd = pipe.HGetAll(ctx, l.ownersKey())
		invitesCmd = pipe.HGetAll(ctx, l.invitesKey())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read referral ledger: %w", err)
	}

	owners := ownersCmd.Val()
	invites := invitesCmd.Val()

	records := make([]types.ReferralRecord, 0, len(orderCmd.Val()))
	for _, code := range orderCmd.Val() {
		n, err := strconv.Atoi(invites[code])
		if err != nil {
			return nil, fmt.Errorf("%w: code %s has invite count %q", ErrMalformedLedger, code, invites[code])
		}
		records = append(records, types.ReferralRecord{
			Wallet:  owners[code],
			Code:    code,
			Invites: n,
		})
	}
	return records, nil
}

// Import 將既有紀錄（例如檔案帳本）匯入 Redis；已存在的推薦碼略過
func (l *RedisLedger) Import(ctx context.Context, records []types.ReferralRecord) (int, error) {
	imported := 0
	for _, r := range records {
		added, err := l.AddNewCode(ctx, r.Wallet, r.Code)
		if err != nil {
			return imported, err
		}
		if !added {
			continue
		}
		if r.Invites > 0 {
			if err := l.client.HSet(ctx, l.invitesKey(), r.Code, r.Invites).Err(); err != nil {
				return imported, fmt.Errorf("failed to set invites for %s: %w", r.Code, err)
			}
		}
		imported++
	}
	return imported, nil
}
