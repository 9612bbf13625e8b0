package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lib/pq"
)

// RestoreResult reports a completed restore.
type RestoreResult struct {
	RowsRestored int64
	Partial      bool   // orphaned staging/old tables remain
	Message      string // operator-facing status line
}

// Restore loads a snapshot into a staging table, validates its row
// count against the metadata header, and atomically swaps it into
// place. The live table is never touched until validation passes, and
// a failed swap leaves it exactly as it was.
func (m *Manager) Restore(ctx context.Context, path string) (*RestoreResult, error) {
	snap, err := m.readArtifact(path)
	if err != nil {
		return nil, err
	}
	m.log.Info("Restoring snapshot",
		"path", path, "declared_rows", snap.Meta.RowCount, "parsed_rows", len(snap.Rows))

	if err := m.buildStaging(ctx, snap); err != nil {
		return nil, err
	}

	if err := m.loadStaging(ctx, snap); err != nil {
		m.dropStaging(ctx)
		return nil, fmt.Errorf("load staging table: %w", err)
	}

	var staged int64
	if err := m.db.GetContext(ctx, &staged,
		fmt.Sprintf(`SELECT count(*) FROM %s`, pq.QuoteIdentifier(stagingName))); err != nil {
		m.dropStaging(ctx)
		return nil, fmt.Errorf("count staging rows: %w", err)
	}
	if staged != snap.Meta.RowCount {
		m.dropStaging(ctx)
		return nil, fmt.Errorf("%w: staging holds %d rows, metadata declares %d",
			ErrRowCountMismatch, staged, snap.Meta.RowCount)
	}

	if err := m.swap(ctx); err != nil {
		return nil, fmt.Errorf("swap failed, live table preserved for manual recovery: %w", err)
	}

	result := &RestoreResult{RowsRestored: staged, Message: "restore complete"}
	if orphans := m.orphanedTables(ctx); len(orphans) > 0 {
		result.Partial = true
		result.Message = fmt.Sprintf(
			"partial success: row counts match but leftover tables need manual cleanup: %s",
			strings.Join(orphans, ", "))
		m.log.Warn("Restore left orphaned tables", "tables", orphans)
	} else {
		m.log.Info("Restore complete", "rows", staged)
	}
	return result, nil
}

func (m *Manager) readArtifact(path string) (*snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: not a gzip artifact: %v", ErrInvalidFormat, err)
	}
	defer gz.Close()

	return parseSnapshot(gz)
}

// buildStaging creates the staging table, preferring the live table's
// structure and falling back to the snapshot's rewritten schema, then
// attaches a fresh identity sequence.
func (m *Manager) buildStaging(ctx context.Context, snap *snapshot) error {
	m.dropStaging(ctx)

	liveExists, err := m.tableExists(ctx, tableName)
	if err != nil {
		return err
	}

	if liveExists {
		_, err = m.db.ExecContext(ctx, fmt.Sprintf(
			`CREATE TABLE %s (LIKE %s INCLUDING ALL EXCLUDING DEFAULTS)`,
			pq.QuoteIdentifier(stagingName), pq.QuoteIdentifier(tableName)))
		if err != nil {
			return fmt.Errorf("create staging from live structure: %w", err)
		}
	} else {
		ddl := strings.ReplaceAll(snap.Schema, tableName, stagingName)
		if _, err = m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create staging from snapshot schema: %w", err)
		}
	}

	stmts := []string{
		fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS %s OWNED BY %s.id`,
			pq.QuoteIdentifier(stagingSeq), pq.QuoteIdentifier(stagingName)),
		fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN id SET DEFAULT nextval('%s')`,
			pq.QuoteIdentifier(stagingName), stagingSeq),
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			m.dropStaging(ctx)
			return fmt.Errorf("attach staging sequence: %w", err)
		}
	}
	return nil
}

// loadStaging inserts the snapshot rows in fixed-size parameterized
// batches. Batching only bounds round trips for large tables.
func (m *Manager) loadStaging(ctx context.Context, snap *snapshot) error {
	for start := 0; start < len(snap.Rows); start += restoreBatch {
		end := start + restoreBatch
		if end > len(snap.Rows) {
			end = len(snap.Rows)
		}

		query, args := buildInsert(stagingName, snap.Columns, snap.Rows[start:end])
		if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert batch at row %d: %w", start, err)
		}
	}
	return nil
}

// swap renames staging into place within one transaction: sequence
// first, then the tables, then the old table is dropped. A rollback
// leaves the live table untouched.
func (m *Manager) swap(ctx context.Context) error {
	tx, err := m.db.Begin(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin swap transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		fmt.Sprintf(`ALTER SEQUENCE IF EXISTS %s RENAME TO %s`,
			pq.QuoteIdentifier(liveSeq), pq.QuoteIdentifier(oldSeq)),
		fmt.Sprintf(`ALTER SEQUENCE %s RENAME TO %s`,
			pq.QuoteIdentifier(stagingSeq), pq.QuoteIdentifier(liveSeq)),
		fmt.Sprintf(`ALTER TABLE IF EXISTS %s RENAME TO %s`,
			pq.QuoteIdentifier(tableName), pq.QuoteIdentifier(oldName)),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`,
			pq.QuoteIdentifier(stagingName), pq.QuoteIdentifier(tableName)),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pq.QuoteIdentifier(oldName)),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

func (m *Manager) dropStaging(ctx context.Context) {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pq.QuoteIdentifier(stagingName)))
	if err != nil {
		m.log.Warn("Failed to drop staging table", "error", err)
	}
}

func (m *Manager) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, name)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return exists, nil
}

// orphanedTables reports staging/old tables surviving a committed swap.
func (m *Manager) orphanedTables(ctx context.Context) []string {
	var orphans []string
	for _, name := range []string{stagingName, oldName} {
		exists, err := m.tableExists(ctx, name)
		if err != nil {
			m.log.Warn("Failed to check for orphaned table", "table", name, "error", err)
			continue
		}
		if exists {
			orphans = append(orphans, name)
		}
	}
	return orphans
}
