package journal

// ============================================================================
// Journal Error Definitions
// Purpose: Define all journal-related error types
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrCorruptedJournal indicates a line could not be parsed
	ErrCorruptedJournal = errors.New("journal: file is corrupted")

	// ErrChecksumMismatch indicates checksum mismatch (data corruption or tampering)
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrJournalClosed indicates the journal is closed
	ErrJournalClosed = errors.New("journal: already closed")
)

// ChecksumError represents checksum error with detailed information
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError represents a line that failed to decode
type CorruptionError struct {
	Line  int
	Cause error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted entry at line %d: %v", e.Line, e.Cause)
}

func (e *CorruptionError) Unwrap() []error {
	return []error{ErrCorruptedJournal, e.Cause}
}
