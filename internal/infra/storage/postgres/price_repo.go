package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
)

// PriceRepo implements storage.PricePointRepository using PostgreSQL.
type PriceRepo struct {
	db *DB
}

// NewPriceRepo creates a new PostgreSQL price point repository.
func NewPriceRepo(db *DB) *PriceRepo {
	return &PriceRepo{db: db}
}

type pricePointRow struct {
	ID             int64           `db:"id"`
	Price          decimal.Decimal `db:"price"`
	ObservedAt     time.Time       `db:"observed_at"`
	LedgerIndex    sql.NullInt64   `db:"ledger_index"`
	SourceSequence sql.NullInt64   `db:"source_sequence"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r *pricePointRow) toDomain() *domain.PricePoint {
	p := &domain.PricePoint{
		ID:         r.ID,
		Price:      r.Price,
		ObservedAt: r.ObservedAt,
		CreatedAt:  r.CreatedAt,
	}
	if r.LedgerIndex.Valid {
		p.LedgerIndex = uint32(r.LedgerIndex.Int64)
	}
	if r.SourceSequence.Valid {
		seq := uint32(r.SourceSequence.Int64)
		p.SourceSequence = &seq
	}
	return p
}

// Insert stores one observation. The unique constraint on ledger_index
// makes overlapping polling and backfill passes idempotent: a conflicting
// insert is reported as (false, nil), never as an error.
func (r *PriceRepo) Insert(ctx context.Context, p *domain.PricePoint) (bool, error) {
	query := `
		INSERT INTO price_points (price, observed_at, ledger_index, source_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ledger_index) DO NOTHING
	`

	var seq any
	if p.SourceSequence != nil {
		seq = int64(*p.SourceSequence)
	}

	res, err := r.db.ExecContext(ctx, query,
		p.Price,
		p.ObservedAt,
		int64(p.LedgerIndex),
		seq,
	)
	if err != nil {
		if IsPgError(err, CodeUniqueViolation) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert price point: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return rows > 0, nil
}

// ListBetween retrieves points in [from, to] ordered by observation time.
func (r *PriceRepo) ListBetween(
	ctx context.Context,
	from, to time.Time,
) ([]*domain.PricePoint, error) {
	query := `
		SELECT id, price, observed_at, ledger_index, source_sequence, created_at
		FROM price_points
		WHERE observed_at BETWEEN $1 AND $2
		ORDER BY observed_at ASC
	`

	var rows []pricePointRow
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list price points: %w", err)
	}

	points := make([]*domain.PricePoint, len(rows))
	for i := range rows {
		points[i] = rows[i].toDomain()
	}
	return points, nil
}

// ListLedgerIndexes retrieves all stored ledger indexes in ascending order.
func (r *PriceRepo) ListLedgerIndexes(ctx context.Context) ([]uint32, error) {
	query := `
		SELECT ledger_index FROM price_points
		WHERE ledger_index IS NOT NULL
		ORDER BY ledger_index ASC
	`

	var raw []int64
	if err := r.db.SelectContext(ctx, &raw, query); err != nil {
		return nil, fmt.Errorf("failed to list ledger indexes: %w", err)
	}

	indexes := make([]uint32, len(raw))
	for i, v := range raw {
		indexes[i] = uint32(v)
	}
	return indexes, nil
}

// Latest retrieves the most recent observation.
func (r *PriceRepo) Latest(ctx context.Context) (*domain.PricePoint, error) {
	query := `
		SELECT id, price, observed_at, ledger_index, source_sequence, created_at
		FROM price_points
		ORDER BY observed_at DESC
		LIMIT 1
	`

	var row pricePointRow
	err := r.db.GetContext(ctx, &row, query)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price point: %w", err)
	}

	return row.toDomain(), nil
}

// Count returns the number of stored points.
func (r *PriceRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM price_points`); err != nil {
		return 0, fmt.Errorf("failed to count price points: %w", err)
	}
	return count, nil
}
