package controller

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/ChuLiYu/zerog-bots/internal/chain"
	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/internal/ledger"
	"github.com/ChuLiYu/zerog-bots/internal/server"
	"github.com/ChuLiYu/zerog-bots/internal/storage/journal"
	"github.com/ChuLiYu/zerog-bots/internal/transport"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 每個錢包的連線
// ============================================================================

// RPCDialer 從 rpcs.zerog 隨機選一個端點；use_proxy_for_rpc 時走錢包代理
func RPCDialer(cfg *config.Config) ChainDialer {
	return func(ctx context.Context, w types.Wallet) (chain.Client, func(), error) {
		urls := cfg.RPCs.ZeroG
		if len(urls) == 0 {
			return nil, nil, fmt.Errorf("%w: no rpc endpoints", config.ErrInvalidConfig)
		}
		opts := chain.DialOptions{
			URL:      urls[rand.IntN(len(urls))],
			Insecure: cfg.Others.SkipSSLVerification,
		}
		if cfg.Others.UseProxyForRPC {
			opts.Proxy = w.Proxy
		}
		client, err := chain.Dial(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}

// BrowserSessions 每個錢包兩個獨立 cookie jar 的 Chrome 指紋 session
func BrowserSessions(cfg *config.Config) SessionFactory {
	return func(w types.Wallet) (transport.Doer, transport.Doer, error) {
		opts := transport.Options{Proxy: w.Proxy, Insecure: cfg.Others.SkipSSLVerification}
		campaign, err := transport.NewClient(opts)
		if err != nil {
			return nil, nil, err
		}
		social, err := transport.NewClient(opts)
		if err != nil {
			return nil, nil, err
		}
		return campaign, social, nil
	}
}

// ============================================================================
// 共享資源
// ============================================================================

// OpenLedger 依 ledger.backend 建立帳本；observe 非 nil 時包上指標
func OpenLedger(cfg config.Ledger, observe ledger.Observer) (ledger.Ledger, func() error, error) {
	var (
		l       ledger.Ledger
		closeFn = func() error { return nil }
	)

	switch cfg.Backend {
	case config.LedgerFile, "":
		l = ledger.NewFileLedger(cfg.Path)
	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		l = ledger.NewRedisLedger(client, cfg.RedisPrefix)
		closeFn = client.Close
	case config.LedgerRemote:
		remote, conn, err := server.DialLedger(cfg.RemoteAddr)
		if err != nil {
			return nil, nil, err
		}
		l = remote
		closeFn = conn.Close
	default:
		return nil, nil, fmt.Errorf("%w: unknown ledger backend %q", config.ErrInvalidConfig, cfg.Backend)
	}

	if observe != nil {
		l = ledger.Instrumented(l, observe)
	}
	return l, closeFn, nil
}

// OpenJournal 檔案日誌，設定 postgres_dsn 時同時寫入 Postgres
func OpenJournal(ctx context.Context, cfg config.Journal) (journal.Recorder, error) {
	var recorders journal.Multi

	if cfg.Path != "" {
		fj, err := journal.NewFileJournal(cfg.Path, false)
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, fj)
	}
	if cfg.PostgresDSN != "" {
		pj, err := journal.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, multierr.Append(err, recorders.Close())
		}
		recorders = append(recorders, pj)
	}

	switch len(recorders) {
	case 0:
		return journal.Nop{}, nil
	case 1:
		return recorders[0], nil
	default:
		return recorders, nil
	}
}
