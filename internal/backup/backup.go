package backup

import (
	"bufio"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/oraclewatch/xrpusd/internal/infra/storage/postgres"
)

var (
	ErrTableNotFound    = errors.New("price table not found")
	ErrInvalidFormat    = errors.New("invalid backup format")
	ErrRowCountMismatch = errors.New("row count mismatch")
	ErrNoBackups        = errors.New("no backups found")
)

const (
	tableName    = "price_points"
	stagingName  = "price_points_restore"
	oldName      = "price_points_old"
	liveSeq      = "price_points_id_seq"
	stagingSeq   = "price_points_restore_id_seq"
	oldSeq       = "price_points_old_id_seq"
	fileSuffix   = ".sql.gz"
	restoreBatch = 1000
)

// dataColumns is the exported column list: the table minus its identity
// column, so ids are regenerated on import instead of colliding.
var dataColumns = []string{
	"price", "observed_at", "ledger_index", "source_sequence", "created_at",
}

// querier is the read surface shared by the pool and transactions.
type querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// transaction is one database transaction.
type transaction interface {
	querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// database is the SQL surface the manager consumes.
type database interface {
	querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Begin(ctx context.Context, opts *sql.TxOptions) (transaction, error)
}

// sqlDatabase adapts *postgres.DB to the database interface.
type sqlDatabase struct {
	*postgres.DB
}

func (d sqlDatabase) Begin(ctx context.Context, opts *sql.TxOptions) (transaction, error) {
	tx, err := d.DB.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Manager backs up and restores the price table.
type Manager struct {
	db  database
	dir string
	log *slog.Logger
	now func() time.Time
}

// NewManager creates a backup manager writing artifacts under dir.
func NewManager(db *postgres.DB, dir string) *Manager {
	return &Manager{
		db:  sqlDatabase{DB: db},
		dir: dir,
		log: slog.Default().With("component", "backup"),
		now: time.Now,
	}
}

// Result reports a completed backup.
type Result struct {
	Path      string
	RowCount  int64
	SizeBytes int64
}

// Backup snapshots the price table into a gzip artifact: metadata
// header, schema statement, then the data section in bulk-copy text
// with the identity column stripped. The uncompressed intermediate is
// removed once the compressed artifact verifies.
func (m *Manager) Backup(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	// The count and the row export share one repeatable-read snapshot so
	// inserts landing mid-backup cannot skew the declared row count.
	tx, err := m.db.Begin(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	var count int64
	err = tx.GetContext(ctx, &count, `SELECT count(*) FROM price_points`)
	if postgres.IsPgError(err, postgres.CodeUndefinedTable) {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	stamp := m.now().UTC().Format("20060102_150405")
	rawPath := filepath.Join(m.dir, fmt.Sprintf("%s_%s.sql", tableName, stamp))

	written, err := m.writeSnapshot(ctx, tx, rawPath, count)
	if err != nil {
		_ = os.Remove(rawPath)
		return nil, err
	}
	if written != count {
		_ = os.Remove(rawPath)
		return nil, fmt.Errorf("exported %d rows, counted %d", written, count)
	}

	gzPath := rawPath + ".gz"
	if err := compressFile(rawPath, gzPath); err != nil {
		_ = os.Remove(rawPath)
		_ = os.Remove(gzPath)
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := m.verifyArtifact(gzPath, count); err != nil {
		_ = os.Remove(rawPath)
		_ = os.Remove(gzPath)
		return nil, err
	}
	if err := os.Remove(rawPath); err != nil {
		m.log.Warn("Failed to remove uncompressed intermediate", "path", rawPath, "error", err)
	}

	info, err := os.Stat(gzPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	m.log.Info("Backup complete",
		"path", gzPath, "rows", count, "bytes", info.Size())
	return &Result{Path: gzPath, RowCount: count, SizeBytes: info.Size()}, nil
}

// writeSnapshot streams the table into an uncompressed snapshot file
// and returns the number of data rows written.
func (m *Manager) writeSnapshot(ctx context.Context, q querier, path string, count int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	meta := Metadata{
		BackupDate:    m.now(),
		Table:         tableName,
		RowCount:      count,
		FormatVersion: FormatVersion,
	}
	if err := writeMetadata(w, meta); err != nil {
		return 0, fmt.Errorf("write metadata: %w", err)
	}

	schema, err := m.tableSchema(ctx, q)
	if err != nil {
		return 0, err
	}
	if _, err := fmt.Fprintln(w, schema); err != nil {
		return 0, fmt.Errorf("write schema: %w", err)
	}

	if err := writeCopyHeader(w, tableName, dataColumns); err != nil {
		return 0, fmt.Errorf("write data header: %w", err)
	}
	written, err := m.writeRows(ctx, q, w)
	if err != nil {
		return 0, err
	}
	if _, err := fmt.Fprintln(w, dataTerminator); err != nil {
		return 0, fmt.Errorf("write terminator: %w", err)
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("flush snapshot: %w", err)
	}
	return written, f.Sync()
}

func (m *Manager) writeRows(ctx context.Context, q querier, w io.Writer) (int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT price::text, observed_at, ledger_index, source_sequence, created_at
		FROM price_points
		ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("export rows: %w", err)
	}
	defer rows.Close()

	var written int64
	for rows.Next() {
		var (
			price       string
			observedAt  time.Time
			ledgerIndex sql.NullInt64
			sourceSeq   sql.NullInt64
			createdAt   time.Time
		)
		if err := rows.Scan(&price, &observedAt, &ledgerIndex, &sourceSeq, &createdAt); err != nil {
			return written, fmt.Errorf("scan row: %w", err)
		}

		fields := []*string{
			ptr(price),
			ptr(observedAt.UTC().Format(time.RFC3339Nano)),
			nullableInt(ledgerIndex),
			nullableInt(sourceSeq),
			ptr(createdAt.UTC().Format(time.RFC3339Nano)),
		}
		if err := writeDataLine(w, fields); err != nil {
			return written, fmt.Errorf("write row: %w", err)
		}
		written++
	}
	return written, rows.Err()
}

// tableSchema rebuilds the table's DDL from the catalog. The identity
// column is rendered as bigserial so a restored copy grows its own
// sequence.
func (m *Manager) tableSchema(ctx context.Context, q querier) (string, error) {
	type column struct {
		Name     string         `db:"column_name"`
		DataType string         `db:"data_type"`
		Nullable string         `db:"is_nullable"`
		Default  sql.NullString `db:"column_default"`
	}
	var cols []column
	err := q.SelectContext(ctx, &cols, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, tableName)
	if err != nil {
		return "", fmt.Errorf("read table schema: %w", err)
	}
	if len(cols) == 0 {
		return "", ErrTableNotFound
	}

	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		if c.Default.Valid && strings.Contains(c.Default.String, "nextval(") {
			defs = append(defs, fmt.Sprintf("    %s bigserial PRIMARY KEY",
				pq.QuoteIdentifier(c.Name)))
			continue
		}
		def := "    " + pq.QuoteIdentifier(c.Name) + " " + c.DataType
		if c.Nullable == "NO" {
			def += " NOT NULL"
		}
		if c.Default.Valid {
			def += " DEFAULT " + c.Default.String
		}
		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);\nALTER TABLE %s ADD UNIQUE (ledger_index);",
		tableName, strings.Join(defs, ",\n"), tableName), nil
}

// verifyArtifact checks the compressed artifact decompresses and parses
// back to the declared row count.
func (m *Manager) verifyArtifact(path string, want int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("artifact not readable: %w", err)
	}
	defer gz.Close()

	snap, err := parseSnapshot(gz)
	if err != nil {
		return fmt.Errorf("artifact failed verification: %w", err)
	}
	if int64(len(snap.Rows)) != want {
		return fmt.Errorf("artifact holds %d rows, expected %d", len(snap.Rows), want)
	}
	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Sync()
}

// BackupFile describes one artifact in the backup directory.
type BackupFile struct {
	Name      string
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// ListBackups returns the artifacts in the backup directory, newest
// first. Returns ErrNoBackups when none exist.
func (m *Manager) ListBackups() ([]BackupFile, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBackups
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var files []BackupFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, BackupFile{
			Name:      e.Name(),
			Path:      filepath.Join(m.dir, e.Name()),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	if len(files) == 0 {
		return nil, ErrNoBackups
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

func ptr(s string) *string { return &s }

func nullableInt(v sql.NullInt64) *string {
	if !v.Valid {
		return nil
	}
	s := fmt.Sprintf("%d", v.Int64)
	return &s
}
