// Package types 定義了 zerog-bots 系統中使用的核心領域模型
package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// 錢包
// ============================================================================

// Wallet 代表一個由機器人代為操作的帳號
type Wallet struct {
	Index        int               `json:"index"`         // 帳號序號（1-based，對應私鑰檔案行號）
	Address      common.Address    `json:"address"`       // 由私鑰推導的地址
	PrivateKey   *ecdsa.PrivateKey `json:"-"`             // 簽名用私鑰，不序列化
	Proxy        string            `json:"proxy"`         // HTTP 代理（可為空）
	TwitterToken string            `json:"-"`             // X auth_token cookie（可為空）
	Label        string            `json:"label,omitempty"`
}

// String 回傳帶有序號的簡短識別字串，用於日誌
func (w Wallet) String() string {
	return fmt.Sprintf("%d|%s", w.Index, w.Address.Hex())
}

// ============================================================================
// 任務（遠端 campaign 活動）
// ============================================================================

// TaskStatus 任務完成紀錄的狀態
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// TaskRecord 任務的一筆完成紀錄
type TaskRecord struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
}

// Task 由 campaign 後端取得的任務
type Task struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"` // 分派鍵
	Type     string                 `json:"type,omitempty"`
	Records  []TaskRecord           `json:"records"`
	Metadata map[string]interface{} `json:"properties,omitempty"`
}

// Satisfied 最後一筆紀錄為 COMPLETED 時視為已完成
func (t Task) Satisfied() bool {
	if len(t.Records) == 0 {
		return false
	}
	return t.Records[len(t.Records)-1].Status == TaskCompleted
}

// ============================================================================
// 推薦碼
// ============================================================================

// ReferralRecord 推薦碼帳本中的一行
type ReferralRecord struct {
	Wallet  string `json:"wallet"`
	Code    string `json:"code"`
	Invites int    `json:"invites"`
}

// ============================================================================
// 登入會話
// ============================================================================

// ErrIncompleteSession 登入會話缺少必要 token
var ErrIncompleteSession = errors.New("login session is incomplete")

// LoginSession 登入握手後取得的 token 集合，只存在記憶體中
type LoginSession struct {
	BearerToken   string
	AccessToken   string
	RefreshToken  string
	IdentityToken string
	SessionToken  string // deform userLogin 交換後的 token
}

// Validate 五個欄位都必須存在才能進行任務分派
func (s LoginSession) Validate() error {
	missing := make([]string, 0)
	if s.BearerToken == "" {
		missing = append(missing, "bearer")
	}
	if s.AccessToken == "" {
		missing = append(missing, "access")
	}
	if s.RefreshToken == "" {
		missing = append(missing, "refresh")
	}
	if s.IdentityToken == "" {
		missing = append(missing, "identity")
	}
	if s.SessionToken == "" {
		missing = append(missing, "session")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrIncompleteSession, missing)
	}
	return nil
}

// ============================================================================
// 執行結果
// ============================================================================

// OutcomeKind 動作結果的種類
type OutcomeKind int

const (
	OutcomeFailure OutcomeKind = iota
	OutcomeSuccess
	OutcomeAlreadyDone // 目標狀態早已成立（例如當日已領取）
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlreadyDone:
		return "already_done"
	default:
		return "failure"
	}
}

// Outcome 動作或後端呼叫的明確結果
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	TxHash string      `json:"tx_hash,omitempty"`
}

// Success 建立成功結果
func Success(txHash string) Outcome { return Outcome{Kind: OutcomeSuccess, TxHash: txHash} }

// AlreadyDone 建立「已完成」結果
func AlreadyDone(reason string) Outcome { return Outcome{Kind: OutcomeAlreadyDone, Reason: reason} }

// Failure 建立失敗結果
func Failure(reason string) Outcome { return Outcome{Kind: OutcomeFailure, Reason: reason} }

// OK 成功與已完成都算成功
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeAlreadyDone
}

// ============================================================================
// TaskRunner 狀態機
// ============================================================================

// RunState 單一錢包 TaskRunner 的狀態
type RunState string

const (
	StateLoggedOut        RunState = "LOGGED_OUT"
	StateLoggingIn        RunState = "LOGGING_IN"
	StateTwitterLinkCheck RunState = "TWITTER_LINK_CHECK"
	StateTwitterLinking   RunState = "TWITTER_LINKING"
	StateFetchingTasks    RunState = "FETCHING_TASKS"
	StateRunningTask      RunState = "RUNNING_TASK"
	StateDone             RunState = "DONE"
	StateFailed           RunState = "FAILED"
)

// 允許的狀態轉換；任何非終止狀態都可以轉到 FAILED
var runTransitions = map[RunState][]RunState{
	StateLoggedOut:        {StateLoggingIn},
	StateLoggingIn:        {StateTwitterLinkCheck},
	StateTwitterLinkCheck: {StateTwitterLinking, StateFetchingTasks},
	StateTwitterLinking:   {StateFetchingTasks},
	StateFetchingTasks:    {StateRunningTask, StateDone},
	StateRunningTask:      {StateRunningTask, StateDone},
}

// Terminal DONE 與 FAILED 為終止狀態
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition 檢查 s -> next 是否合法
func (s RunState) CanTransition(next RunState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ============================================================================
// 錢包層級的執行狀態（由 tracker 維護）
// ============================================================================

// WalletStatus 錢包工作在 orchestrator 中的狀態
type WalletStatus string

const (
	WalletPending   WalletStatus = "pending"
	WalletRunning   WalletStatus = "running"
	WalletCompleted WalletStatus = "completed"
	WalletFailed    WalletStatus = "failed"
)

// WalletRun 單一錢包一次執行的紀錄
type WalletRun struct {
	Index      int          `json:"index"`
	Address    string       `json:"address"`
	Status     WalletStatus `json:"status"`
	Module     string       `json:"module,omitempty"`    // 目前或最後執行的模組
	RunState   RunState     `json:"run_state,omitempty"` // TaskRunner 最新狀態
	TaskIndex  int          `json:"task_index,omitempty"`
	Succeeded  []string     `json:"succeeded,omitempty"`
	Failed     []string     `json:"failed,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  int64        `json:"started_at,omitempty"`  // Unix 毫秒
	FinishedAt int64        `json:"finished_at,omitempty"` // Unix 毫秒
}

// RunSummary 一次執行的彙總，寫入摘要快照
type RunSummary struct {
	SchemaVer  int            `json:"schema_ver"`
	StartedAt  int64          `json:"started_at"`
	FinishedAt int64          `json:"finished_at"`
	Stats      map[string]int `json:"stats"`
	Wallets    []WalletRun    `json:"wallets"`
}
