package journal

import (
	"context"

	"github.com/google/uuid"
)

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the records appended for every bot action
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventWalletStart  EventType = "WALLET_START"  // Wallet picked up by a worker
	EventAction       EventType = "ACTION"        // Chain action finished (any outcome)
	EventTask         EventType = "TASK"          // Campaign task handled
	EventReferral     EventType = "REFERRAL"      // Referral code used or added
	EventWalletFinish EventType = "WALLET_FINISH" // Wallet finished all steps
)

// Entry represents one journal record
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Seq       uint64    `json:"seq"`       // Sequence number (monotonically increasing per file)
	Type      EventType `json:"type"`      // Event type
	Account   int       `json:"account"`   // 1-based wallet index
	Wallet    string    `json:"wallet"`    // Wallet address
	Module    string    `json:"module"`    // Module or task title
	Outcome   string    `json:"outcome"`   // success / already_done / failure
	TxHash    string    `json:"tx_hash,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp int64     `json:"timestamp"` // Unix millisecond timestamp
	Checksum  uint32    `json:"checksum"`  // CRC32 checksum
}

// EntryHandler processes entries during Replay
type EntryHandler func(entry Entry) error

// Recorder is anything that can persist journal entries
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// Nop discards every entry
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }
