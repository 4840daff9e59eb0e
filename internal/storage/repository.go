package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"block-streamer/internal/block"
	"block-streamer/internal/failover"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createBlocksSQL = `CREATE TABLE IF NOT EXISTS blocks (
        number      BIGINT PRIMARY KEY,
        hash        TEXT NOT NULL,
        parent_hash TEXT NOT NULL,
        block_ts    TIMESTAMPTZ NOT NULL,
        tx_count    INTEGER NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createSwitchesSQL = `CREATE TABLE IF NOT EXISTS provider_switches (
        id            BIGSERIAL PRIMARY KEY,
        from_provider TEXT NOT NULL,
        to_provider   TEXT NOT NULL,
        reason        TEXT NOT NULL,
        head          BIGINT,
        switched_at   TIMESTAMPTZ NOT NULL
    );`

	upsertBlockSQL = `INSERT INTO blocks (
        number,
        hash,
        parent_hash,
        block_ts,
        tx_count
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (number) DO UPDATE
    SET
        hash        = EXCLUDED.hash,
        parent_hash = EXCLUDED.parent_hash,
        block_ts    = EXCLUDED.block_ts,
        tx_count    = EXCLUDED.tx_count;`

	listRecentBlocksSQL = `SELECT
        number,
        hash,
        parent_hash,
        block_ts,
        tx_count,
        created_at
    FROM blocks
    ORDER BY number DESC
    LIMIT $1;`

	latestBlockSQL = `SELECT
        number,
        hash,
        parent_hash,
        block_ts,
        tx_count,
        created_at
    FROM blocks
    ORDER BY number DESC
    LIMIT 1;`

	countBlocksSQL = `SELECT COUNT(*) FROM blocks;`

	insertSwitchSQL = `INSERT INTO provider_switches (
        from_provider,
        to_provider,
        reason,
        head,
        switched_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	listRecentSwitchesSQL = `SELECT
        id,
        from_provider,
        to_provider,
        reason,
        head,
        switched_at
    FROM provider_switches
    ORDER BY switched_at DESC
    LIMIT $1;`
)

// BlockStore defines operations for block persistence.
type BlockStore interface {
	UpsertBlock(ctx context.Context, rec block.Record) error
	ListRecentBlocks(ctx context.Context, limit int) ([]BlockRow, error)
	LatestBlock(ctx context.Context) (BlockRow, bool, error)
	CountBlocks(ctx context.Context) (int64, error)
}

// SwitchStore defines operations for provider switch auditing.
type SwitchStore interface {
	InsertSwitch(ctx context.Context, ev failover.Event) (int64, error)
	ListRecentSwitches(ctx context.Context, limit int) ([]SwitchRecord, error)
}

// Store aggregates access to blocks and provider switches.
type Store struct {
	pool         *pgxpool.Pool
	writeTimeout time.Duration
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables the stream writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createBlocksSQL, createSwitchesSQL} {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}

// Emit stores a validated block, bounded by the configured write timeout.
func (s *Store) Emit(ctx context.Context, rec block.Record) error {
	if s != nil && s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return s.UpsertBlock(ctx, rec)
}

// UpsertBlock persists or replaces a block row.
func (s *Store) UpsertBlock(ctx context.Context, rec block.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	args, err := blockArgs(rec)
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertBlockSQL, args...)
	if execErr != nil {
		return fmt.Errorf("upsert block %d: %w", rec.Number, execErr)
	}
	return nil
}

// ListRecentBlocks lists the most recent blocks ordered by descending number.
func (s *Store) ListRecentBlocks(ctx context.Context, limit int) ([]BlockRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentBlocksSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent blocks: %w", queryErr)
	}
	defer rows.Close()

	blocks := make([]BlockRow, 0, limit)
	for rows.Next() {
		row, scanErr := scanBlock(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		blocks = append(blocks, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocks, nil
}

// LatestBlock returns the highest stored block, if any.
func (s *Store) LatestBlock(ctx context.Context) (BlockRow, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return BlockRow{}, false, err
	}

	row, scanErr := scanBlock(pool.QueryRow(ctx, latestBlockSQL))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return BlockRow{}, false, nil
	}
	if scanErr != nil {
		return BlockRow{}, false, fmt.Errorf("latest block: %w", scanErr)
	}
	return row, true, nil
}

// CountBlocks counts stored blocks.
func (s *Store) CountBlocks(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countBlocksSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count blocks: %w", scanErr)
	}
	return count, nil
}

// InsertSwitch records a provider switch.
func (s *Store) InsertSwitch(ctx context.Context, ev failover.Event) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	args, err := switchArgs(ev)
	if err != nil {
		return 0, err
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertSwitchSQL, args...).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert provider switch: %w", scanErr)
	}
	return id, nil
}

// ListRecentSwitches lists the most recent provider switches.
func (s *Store) ListRecentSwitches(ctx context.Context, limit int) ([]SwitchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSwitchesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent switches: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SwitchRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSwitch(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanBlock(row pgx.Row) (BlockRow, error) {
	var (
		out    BlockRow
		number int64
	)
	if err := row.Scan(
		&number,
		&out.Hash,
		&out.ParentHash,
		&out.Timestamp,
		&out.TxCount,
		&out.CreatedAt,
	); err != nil {
		return BlockRow{}, err
	}
	out.Number = uint64(number)
	return out, nil
}

func scanSwitch(row pgx.Row) (SwitchRecord, error) {
	var (
		rec  SwitchRecord
		head *int64
	)
	if err := row.Scan(&rec.ID, &rec.From, &rec.To, &rec.Reason, &head, &rec.SwitchedAt); err != nil {
		return SwitchRecord{}, err
	}
	if head != nil {
		h := uint64(*head)
		rec.Head = &h
	}
	return rec, nil
}

// blockArgs orders rec's columns for upsertBlockSQL.
func blockArgs(rec block.Record) ([]any, error) {
	number, err := toInt64(rec.Number)
	if err != nil {
		return nil, err
	}
	return []any{number, rec.Hash, rec.ParentHash, rec.Time(), rec.TxCount}, nil
}

// switchArgs orders ev's columns for insertSwitchSQL. Head is NULL for health switches.
func switchArgs(ev failover.Event) ([]any, error) {
	var head any
	if ev.Head > 0 {
		h, err := toInt64(ev.Head)
		if err != nil {
			return nil, err
		}
		head = h
	}
	return []any{ev.From, ev.To, string(ev.Reason), head, ev.At}, nil
}

func toInt64(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("block number %d exceeds BIGINT range", n)
	}
	return int64(n), nil
}

var (
	_ BlockStore  = (*Store)(nil)
	_ SwitchStore = (*Store)(nil)
)
