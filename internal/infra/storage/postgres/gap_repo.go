package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
)

// GapRepo implements storage.GapRepository using PostgreSQL.
type GapRepo struct {
	db *DB
}

// NewGapRepo creates a new PostgreSQL gap repository.
func NewGapRepo(db *DB) *GapRepo {
	return &GapRepo{db: db}
}

type gapRow struct {
	ID        string    `db:"id"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (g *gapRow) toDomain() *domain.Gap {
	return &domain.Gap{
		ID:        g.ID,
		StartTime: g.StartTime,
		EndTime:   g.EndTime,
		Status:    domain.GapStatus(g.Status),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

// Add records a detected gap. An identical pending gap (same boundaries)
// is not duplicated.
func (r *GapRepo) Add(ctx context.Context, gap *domain.Gap) error {
	query := `
		INSERT INTO gaps (id, start_time, end_time, status)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM gaps
			WHERE start_time = $2 AND end_time = $3 AND status = 'pending'
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		gap.ID,
		gap.StartTime,
		gap.EndTime,
		string(gap.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to add gap: %w", err)
	}
	return nil
}

// ListPending retrieves gaps awaiting repair, oldest first.
func (r *GapRepo) ListPending(ctx context.Context) ([]*domain.Gap, error) {
	query := `
		SELECT id, start_time, end_time, status, created_at, updated_at
		FROM gaps
		WHERE status = 'pending'
		ORDER BY start_time ASC
	`

	var rows []gapRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list pending gaps: %w", err)
	}

	gaps := make([]*domain.Gap, len(rows))
	for i := range rows {
		gaps[i] = rows[i].toDomain()
	}
	return gaps, nil
}

// MarkRepaired marks a gap after a backfill attempt covered its range.
func (r *GapRepo) MarkRepaired(ctx context.Context, id string) error {
	query := `UPDATE gaps SET status = 'repaired', updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark gap repaired: %w", err)
	}
	return nil
}
