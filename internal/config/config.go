// ============================================================================
// zerog-bots Config - 設定載入
// ============================================================================
//
// Package: internal/config
// 文件: config.go
// 功能: YAML 設定檔 + 環境變數覆寫
//
// 載入順序:
//   1. Default()            內建預設值（0G Galileo 測試網）
//   2. YAML 檔案            覆寫檔案中出現的欄位
//   3. ZEROG_* 環境變數     覆寫少數部署相關欄位（caarlos0/env）
//   4. Validate()
//
// .env 由 cli 在載入前以 godotenv 讀入環境。
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/zerog-bots/internal/retry"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrInvalidConfig 設定值不合法
	ErrInvalidConfig = errors.New("invalid config")
)

// 帳本後端
const (
	LedgerFile   = "file"
	LedgerRedis  = "redis"
	LedgerRemote = "remote"
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config 完整設定
type Config struct {
	Settings    Settings    `yaml:"settings"`
	Flow        Flow        `yaml:"flow"`
	RPCs        RPCs        `yaml:"rpcs"`
	Others      Others      `yaml:"others"`
	Puzzlemania Puzzlemania `yaml:"puzzlemania"`
	Staking     Staking     `yaml:"staking"`
	Ledger      Ledger      `yaml:"ledger"`
	Journal     Journal     `yaml:"journal"`
	Metrics     Metrics     `yaml:"metrics"`
	Files       Files       `yaml:"files"`
	Campaign    Campaign    `yaml:"campaign"`
	Contracts   Contracts   `yaml:"contracts"`
	SummaryPath string      `yaml:"summary_path"`
	LogLevel    string      `yaml:"log_level"`
}

// Settings 執行與節奏設定（秒）
type Settings struct {
	Threads                    int           `yaml:"threads"`
	Attempts                   int           `yaml:"attempts"`
	AccountsRange              Range         `yaml:"accounts_range"` // [0, 0] 表示全部
	ExactAccountsToUse         []int         `yaml:"exact_accounts_to_use"`
	PauseBetweenAttempts       Range         `yaml:"pause_between_attempts"`
	RetryBackoff               float64       `yaml:"retry_backoff"` // 每次失敗後延遲的倍數，1 表示不遞增
	PauseBetweenSwaps          Range         `yaml:"pause_between_swaps"`
	RandomPauseBetweenAccounts Range         `yaml:"random_pause_between_accounts"`
	RandomPauseBetweenActions  Range         `yaml:"random_pause_between_actions"`
	RandomInitializationPause  Range         `yaml:"random_initialization_pause"`
	ShuffleWallets             bool          `yaml:"shuffle_wallets"`
	WalletTimeout              time.Duration `yaml:"wallet_timeout"` // 0 表示不限
}

// Flow 每個錢包要執行的模組
type Flow struct {
	SkipFailedTasks bool   `yaml:"skip_failed_tasks"`
	Tasks           []Step `yaml:"tasks"`
}

// RPCs RPC 端點
type RPCs struct {
	ZeroG []string `yaml:"zerog"`
}

// Others 其他選項
type Others struct {
	SkipSSLVerification bool `yaml:"skip_ssl_verification"`
	UseProxyForRPC      bool `yaml:"use_proxy_for_rpc"`
}

// Puzzlemania 推薦碼相關行為
type Puzzlemania struct {
	UseReferralCode        bool  `yaml:"use_referral_code"`
	InvitesPerReferralCode Range `yaml:"invites_per_referral_code"`
	CollectReferralCode    bool  `yaml:"collect_referral_code"`
}

// Staking 質押模組設定
type Staking struct {
	Astrostake struct {
		BalancePercentToStake Range `yaml:"balance_percent_to_stake"`
	} `yaml:"astrostake"`
}

// Ledger 推薦碼帳本後端
type Ledger struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	RemoteAddr  string `yaml:"remote_addr"`
}

// Journal 動作紀錄
type Journal struct {
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Metrics 管理端點
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Files 輸入檔案
type Files struct {
	PrivateKeys   string `yaml:"private_keys"`
	Proxies       string `yaml:"proxies"`
	TwitterTokens string `yaml:"twitter_tokens"`
}

// Campaign Puzzlemania 後端參數
type Campaign struct {
	PrivyURL               string            `yaml:"privy_url"`
	DeformURL              string            `yaml:"deform_url"`
	AppID                  string            `yaml:"privy_app_id"`
	Origin                 string            `yaml:"origin"`
	CampaignID             string            `yaml:"campaign_id"`
	RegistrationActivityID string            `yaml:"registration_activity_id"`
	Activities             map[string]string `yaml:"activities"` // 任務標題 -> 固定的 activity id
}

// envOverrides 部署相關的環境變數
type envOverrides struct {
	RPCURL      string `env:"ZEROG_RPC_URL"`
	Threads     int    `env:"ZEROG_THREADS"`
	RedisAddr   string `env:"ZEROG_REDIS_ADDR"`
	PostgresDSN string `env:"ZEROG_POSTGRES_DSN"`
	LedgerAddr  string `env:"ZEROG_LEDGER_ADDR"`
	LogLevel    string `env:"ZEROG_LOG_LEVEL"`
}

// ============================================================================
// 預設值
// ============================================================================

// Default 內建預設設定
func Default() *Config {
	return &Config{
		Settings: Settings{
			Threads:                    1,
			Attempts:                   5,
			PauseBetweenAttempts:       R(3, 10),
			RetryBackoff:               1,
			PauseBetweenSwaps:          R(3, 10),
			RandomPauseBetweenAccounts: R(3, 10),
			RandomPauseBetweenActions:  R(3, 10),
			RandomInitializationPause:  R(1, 5),
			ShuffleWallets:             true,
		},
		Flow: Flow{
			Tasks: []Step{{Mode: StepSingle, Modules: []string{"jaine_faucet"}}},
		},
		RPCs: RPCs{ZeroG: []string{"https://evmrpc-testnet.0g.ai"}},
		Puzzlemania: Puzzlemania{
			InvitesPerReferralCode: R(1, 3),
		},
		Staking: func() Staking {
			var s Staking
			s.Astrostake.BalancePercentToStake = R(5, 10)
			return s
		}(),
		Ledger: Ledger{
			Backend:     LedgerFile,
			Path:        "data/referral_codes.txt",
			RedisPrefix: "zerog:referral",
			RemoteAddr:  "127.0.0.1:50061",
		},
		Journal: Journal{Path: "data/journal.jsonl"},
		Metrics: Metrics{Addr: ":9090"},
		Files: Files{
			PrivateKeys:   "data/private_keys.txt",
			Proxies:       "data/proxies.txt",
			TwitterTokens: "data/twitter_tokens.txt",
		},
		Campaign:    DefaultCampaign(),
		Contracts:   DefaultContracts(),
		SummaryPath: "data/last_run.json",
		LogLevel:    "info",
	}
}

// DefaultCampaign Puzzlemania 預設參數
func DefaultCampaign() Campaign {
	return Campaign{
		PrivyURL:               "https://auth.privy.io/api/v1",
		DeformURL:              "https://api.deform.cc/",
		AppID:                  "clphlvsh3034xjw0fvs59mrdc",
		Origin:                 "https://puzzlemania.0g.ai",
		CampaignID:             "f7e24f14-b911-4f11-b903-edac89a095ec",
		RegistrationActivityID: "8cdc0521-90c1-435e-b108-78761eb9e60a",
		Activities: map[string]string{
			"Follow Michael Heinrich - CEO, 0G Labs":              "1cd50bdf-fe19-424d-8d92-744f0ff9ace1",
			"Follow Ming Wu - CTO, 0G Labs":                       "fd912f44-772e-4919-826e-b2bd5fa93e02",
			"Follow 0G Foundation":                                "67b20482-57e2-4ed4-a5fc-88ff66a8559d",
			"Follow 0G Labs":                                      "6bbd5c7e-ad18-4274-8a9c-ed26a4f047f3",
			"Follow One Gravity - the first NFT collection on 0G": "9673d2ce-c6c8-441e-b420-09ea82a39a6e",
			"Follow AI Verse - coming soon.":                      "9be09897-1eba-4cd4-98c0-f39c0a56600f",
			"Follow Battle of Agents - coming soon.":              "95ea2d98-147b-4683-b5c7-a76d3f43af47",
			"Daily check-in":                                      "c35c81a8-b46b-427a-b1f6-f30a1a65691d",
		},
	}
}

// ============================================================================
// 載入
// ============================================================================

// Load 讀取 YAML 設定並套用環境變數覆寫
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if o.RPCURL != "" {
		c.RPCs.ZeroG = []string{o.RPCURL}
	}
	if o.Threads > 0 {
		c.Settings.Threads = o.Threads
	}
	if o.RedisAddr != "" {
		c.Ledger.RedisAddr = o.RedisAddr
	}
	if o.PostgresDSN != "" {
		c.Journal.PostgresDSN = o.PostgresDSN
	}
	if o.LedgerAddr != "" {
		c.Ledger.RemoteAddr = o.LedgerAddr
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return nil
}

// Validate 檢查設定值
func (c *Config) Validate() error {
	s := c.Settings
	if s.Threads < 1 {
		return fmt.Errorf("%w: threads must be >= 1, got %d", ErrInvalidConfig, s.Threads)
	}
	if s.Attempts < 1 {
		return fmt.Errorf("%w: attempts must be >= 1, got %d", ErrInvalidConfig, s.Attempts)
	}
	if s.RetryBackoff != 0 && s.RetryBackoff < 1 {
		return fmt.Errorf("%w: retry_backoff must be >= 1, got %v", ErrInvalidConfig, s.RetryBackoff)
	}
	if s.WalletTimeout < 0 {
		return fmt.Errorf("%w: wallet_timeout must be >= 0", ErrInvalidConfig)
	}

	ranges := map[string]Range{
		"accounts_range":                s.AccountsRange,
		"pause_between_attempts":        s.PauseBetweenAttempts,
		"pause_between_swaps":           s.PauseBetweenSwaps,
		"random_pause_between_accounts": s.RandomPauseBetweenAccounts,
		"random_pause_between_actions":  s.RandomPauseBetweenActions,
		"random_initialization_pause":   s.RandomInitializationPause,
		"invites_per_referral_code":     c.Puzzlemania.InvitesPerReferralCode,
		"balance_percent_to_stake":      c.Staking.Astrostake.BalancePercentToStake,
	}
	for name, r := range ranges {
		if !r.Valid() {
			return fmt.Errorf("%w: %s %s is inverted or negative", ErrInvalidConfig, name, r)
		}
	}
	if c.Staking.Astrostake.BalancePercentToStake.Max > 100 {
		return fmt.Errorf("%w: balance_percent_to_stake must be <= 100", ErrInvalidConfig)
	}

	switch c.Ledger.Backend {
	case LedgerFile:
		if c.Ledger.Path == "" {
			return fmt.Errorf("%w: ledger.path is required for the file backend", ErrInvalidConfig)
		}
	case LedgerRedis:
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("%w: ledger.redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	case LedgerRemote:
		if c.Ledger.RemoteAddr == "" {
			return fmt.Errorf("%w: ledger.remote_addr is required for the remote backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalidConfig, c.Ledger.Backend)
	}

	if len(c.RPCs.ZeroG) == 0 {
		return fmt.Errorf("%w: rpcs.zerog must list at least one endpoint", ErrInvalidConfig)
	}
	for i, st := range c.Flow.Tasks {
		if len(st.Modules) == 0 {
			return fmt.Errorf("%w: flow.tasks[%d] is empty", ErrInvalidConfig, i)
		}
	}
	return nil
}

// RetryPolicy 由 attempts、pause_between_attempts 與 retry_backoff 推導的重試策略
//
// retry_backoff <= 1 時每次都在 pause_between_attempts 內隨機；
// 大於 1 時延遲為 min * backoff^(n-1)，再加上 [0, max-min] 的隨機量。
func (s Settings) RetryPolicy() retry.Policy {
	min, max := s.PauseBetweenAttempts.Seconds()
	delay := min
	if delay <= 0 {
		delay = time.Second
	}
	p := retry.Policy{
		Attempts:   s.Attempts,
		Delay:      delay,
		Multiplier: 1,
		Jitter:     retry.Between(min, max),
	}
	if s.RetryBackoff > 1 {
		p.Multiplier = s.RetryBackoff
		p.Jitter = retry.Additive(max - min)
	}
	return p
}
