package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"aave-rate-digest/internal/aave"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema.sql
var schemaSQL string

const (
	insertReserveSQL = `INSERT INTO reserve_snapshots (
        fetched_at,
        network,
        token,
        supply_apy,
        borrow_apy,
        utilization,
        liquidity,
        last_updated
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (network, token, fetched_at) DO NOTHING;`

	selectReserveColumns = `SELECT
        id,
        fetched_at,
        network,
        token,
        supply_apy::text,
        borrow_apy::text,
        utilization::text,
        liquidity::text,
        last_updated,
        created_at
    FROM reserve_snapshots`

	listRecentReservesSQL = selectReserveColumns + `
    WHERE network = $1
    ORDER BY fetched_at DESC, token
    LIMIT $2;`

	listReservesBetweenSQL = selectReserveColumns + `
    WHERE network = $1
      AND token = $2
      AND fetched_at >= $3
      AND fetched_at < $4
    ORDER BY fetched_at
    LIMIT $5;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore archives delivered market snapshots.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snapshot *aave.MarketSnapshot) (int, error)
	ListRecentReserves(ctx context.Context, network string, limit int) ([]ReserveSnapshot, error)
	ListReservesBetween(ctx context.Context, network, token string, from, to time.Time, limit int) ([]ReserveSnapshot, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the Postgres-backed snapshot archive.
type Store struct {
	pool *pgxpool.Pool
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

// Migrate creates the archive table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSnapshot appends every reserve of snapshot in one batch and returns the rows written.
func (s *Store) InsertSnapshot(ctx context.Context, snapshot *aave.MarketSnapshot) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	rows := SnapshotRows(snapshot)
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		var lastUpdated interface{}
		if row.LastUpdated != nil {
			lastUpdated = *row.LastUpdated
		}
		batch.Queue(insertReserveSQL,
			row.FetchedAt,
			row.Network,
			row.Token,
			row.SupplyAPY.String(),
			row.BorrowAPY.String(),
			row.Utilization.String(),
			row.Liquidity.String(),
			lastUpdated,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range rows {
		tag, execErr := results.Exec()
		if execErr != nil {
			return written, fmt.Errorf("insert reserve snapshot: %w", execErr)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// ListRecentReserves lists the newest rows of a network.
func (s *Store) ListRecentReserves(ctx context.Context, network string, limit int) ([]ReserveSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReservesSQL, network, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reserves: %w", queryErr)
	}
	return collectReserves(rows)
}

// ListReservesBetween lists one token's rows within [from, to), oldest first.
func (s *Store) ListReservesBetween(ctx context.Context, network, token string, from, to time.Time, limit int) ([]ReserveSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReservesBetweenSQL, network, token, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list reserves between: %w", queryErr)
	}
	return collectReserves(rows)
}

func collectReserves(rows pgx.Rows) ([]ReserveSnapshot, error) {
	defer rows.Close()

	out := make([]ReserveSnapshot, 0)
	for rows.Next() {
		rec, err := scanReserve(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanReserve(rows pgx.Rows) (ReserveSnapshot, error) {
	var (
		rec                                   ReserveSnapshot
		supplyStr, borrowStr, utilStr, liqStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.FetchedAt,
		&rec.Network,
		&rec.Token,
		&supplyStr,
		&borrowStr,
		&utilStr,
		&liqStr,
		&rec.LastUpdated,
		&rec.CreatedAt,
	); err != nil {
		return ReserveSnapshot{}, err
	}

	var err error
	if rec.SupplyAPY, err = decimal.NewFromString(supplyStr); err != nil {
		return ReserveSnapshot{}, fmt.Errorf("parse supply apy: %w", err)
	}
	if rec.BorrowAPY, err = decimal.NewFromString(borrowStr); err != nil {
		return ReserveSnapshot{}, fmt.Errorf("parse borrow apy: %w", err)
	}
	if rec.Utilization, err = decimal.NewFromString(utilStr); err != nil {
		return ReserveSnapshot{}, fmt.Errorf("parse utilization: %w", err)
	}
	if rec.Liquidity, err = decimal.NewFromString(liqStr); err != nil {
		return ReserveSnapshot{}, fmt.Errorf("parse liquidity: %w", err)
	}
	return rec, nil
}

var (
	_ SnapshotStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
