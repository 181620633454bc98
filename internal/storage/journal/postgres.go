package journal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"
)

const createTableSQL = `create table if not exists bot_actions (
id uuid primary key,
seq bigint not null,
type text not null,
account integer not null,
wallet text not null,
module text not null,
outcome text not null,
tx_hash text not null default '',
reason text not null default '',
created_at timestamptz not null
)`

const insertSQL = `insert into bot_actions(
id, seq, type, account, wallet, module, outcome, tx_hash, reason, created_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

// execer is the subset of *pgxpool.Pool the journal needs
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresJournal stores entries in a bot_actions table
type PostgresJournal struct {
	db    execer
	close func()
	seq   atomic.Uint64
}

// OpenPostgres connects to dsn and makes sure the table exists
func OpenPostgres(ctx context.Context, dsn string) (*PostgresJournal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres journal: %w", err)
	}
	j := &PostgresJournal{db: pool, close: pool.Close}
	if err := j.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// Migrate creates the bot_actions table when missing
func (j *PostgresJournal) Migrate(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create bot_actions table: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Seq == 0 {
		e.Seq = j.seq.Add(1)
	}
	created := time.Now()
	if e.Timestamp != 0 {
		created = time.UnixMilli(e.Timestamp)
	}

	_, err := j.db.Exec(ctx, insertSQL,
		e.ID, int64(e.Seq), string(e.Type), e.Account, e.Wallet, e.Module,
		e.Outcome, e.TxHash, e.Reason, created,
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Close() error {
	if j.close != nil {
		j.close()
	}
	return nil
}

// ============================================================================
// Multi
// ============================================================================

// Multi fans entries out to several recorders; errors are combined
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Entry) error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Record(ctx, e))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Close())
	}
	return err
}
