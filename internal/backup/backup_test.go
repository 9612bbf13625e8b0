package backup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func buildArtifact(t *testing.T, meta Metadata, rows [][]*string) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := writeMetadata(&buf, meta); err != nil {
		t.Fatalf("writeMetadata failed: %v", err)
	}
	fmt.Fprintln(&buf, "CREATE TABLE price_points (\n    id bigserial PRIMARY KEY,\n    price numeric NOT NULL\n);")
	if err := writeCopyHeader(&buf, tableName, dataColumns); err != nil {
		t.Fatalf("writeCopyHeader failed: %v", err)
	}
	for _, row := range rows {
		if err := writeDataLine(&buf, row); err != nil {
			t.Fatalf("writeDataLine failed: %v", err)
		}
	}
	fmt.Fprintln(&buf, dataTerminator)
	return buf.Bytes()
}

func testMeta(rowCount int64) Metadata {
	return Metadata{
		BackupDate:    time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC),
		Table:         tableName,
		RowCount:      rowCount,
		FormatVersion: FormatVersion,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	rows := [][]*string{
		{ptr("2.35"), ptr("2026-08-01T00:00:00Z"), ptr("1000"), ptr("42"), ptr("2026-08-01T00:00:01Z")},
		{ptr("2.40"), ptr("2026-08-01T00:05:00Z"), ptr("1010"), nil, ptr("2026-08-01T00:05:01Z")},
	}
	data := buildArtifact(t, testMeta(2), rows)

	snap, err := parseSnapshot(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parseSnapshot failed: %v", err)
	}

	if snap.Meta.RowCount != 2 {
		t.Errorf("row count = %d, want 2", snap.Meta.RowCount)
	}
	if snap.Meta.Table != tableName {
		t.Errorf("table = %q, want %q", snap.Meta.Table, tableName)
	}
	if snap.Meta.FormatVersion != FormatVersion {
		t.Errorf("format version = %q, want %q", snap.Meta.FormatVersion, FormatVersion)
	}
	if len(snap.Columns) != len(dataColumns) {
		t.Fatalf("columns = %v, want %v", snap.Columns, dataColumns)
	}
	if !strings.Contains(snap.Schema, "CREATE TABLE price_points") {
		t.Errorf("schema section missing, got %q", snap.Schema)
	}
	if len(snap.Rows) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(snap.Rows))
	}
	if snap.Rows[1][3] != nil {
		t.Errorf("expected NULL source_sequence, got %q", *snap.Rows[1][3])
	}
	if *snap.Rows[0][0] != "2.35" {
		t.Errorf("price = %q, want 2.35", *snap.Rows[0][0])
	}
}

func TestParseSnapshot_MissingMetadata(t *testing.T) {
	data := "CREATE TABLE price_points (id bigserial);\n\nCOPY price_points (price) FROM stdin;\n2.35\n\\.\n"

	_, err := parseSnapshot(strings.NewReader(data))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestParseSnapshot_UnterminatedData(t *testing.T) {
	rows := [][]*string{{ptr("2.35"), ptr("t"), ptr("1"), nil, ptr("t")}}
	data := buildArtifact(t, testMeta(1), rows)
	truncated := bytes.TrimSuffix(data, []byte(dataTerminator+"\n"))

	_, err := parseSnapshot(bytes.NewReader(truncated))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for unterminated data, got %v", err)
	}
}

func TestParseSnapshot_FieldCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	writeMetadata(&buf, testMeta(1))
	writeCopyHeader(&buf, tableName, dataColumns)
	fmt.Fprintln(&buf, "2.35\tonly-two-fields")
	fmt.Fprintln(&buf, dataTerminator)

	_, err := parseSnapshot(&buf)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for short row, got %v", err)
	}
}

func TestParseSnapshot_DeclaredCountIsIndependentOfRows(t *testing.T) {
	// A header declaring 500 rows over a 499-row body still parses; the
	// mismatch is caught by restore validation against the staging table.
	rows := make([][]*string, 499)
	for i := range rows {
		rows[i] = []*string{ptr("2.35"), ptr("t"), ptr(fmt.Sprint(i)), nil, ptr("t")}
	}
	data := buildArtifact(t, testMeta(500), rows)

	snap, err := parseSnapshot(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parseSnapshot failed: %v", err)
	}
	if snap.Meta.RowCount != 500 || len(snap.Rows) != 499 {
		t.Errorf("declared %d parsed %d, want 500/499", snap.Meta.RowCount, len(snap.Rows))
	}
}

func TestFieldEscaping(t *testing.T) {
	tests := []string{
		"plain",
		"tab\tseparated",
		"multi\nline",
		"carriage\rreturn",
		`back\slash`,
		"mixed\t\\\n",
	}
	for _, tt := range tests {
		escaped := escapeField(tt)
		if strings.ContainsAny(escaped, "\t\n\r") {
			t.Errorf("escapeField(%q) leaked control characters: %q", tt, escaped)
		}
		if got := unescapeField(escaped); got != tt {
			t.Errorf("round trip of %q = %q", tt, got)
		}
	}
}

func TestBuildInsert(t *testing.T) {
	rows := [][]*string{
		{ptr("2.35"), ptr("2026-08-01T00:00:00Z"), nil},
		{ptr("2.40"), ptr("2026-08-01T00:05:00Z"), ptr("42")},
	}
	query, args := buildInsert("price_points_restore", []string{"price", "observed_at", "source_sequence"}, rows)

	want := `INSERT INTO "price_points_restore" ("price", "observed_at", "source_sequence") ` +
		`VALUES ($1, $2, $3), ($4, $5, $6)`
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if args[2] != nil {
		t.Errorf("expected nil arg for NULL field, got %v", args[2])
	}
	if args[5] != "42" {
		t.Errorf("args[5] = %v, want 42", args[5])
	}
}

func TestListBackups(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(nil, dir)

	if _, err := m.ListBackups(); !errors.Is(err, ErrNoBackups) {
		t.Errorf("expected ErrNoBackups on empty dir, got %v", err)
	}

	older := filepath.Join(dir, "price_points_20260801_030000.sql.gz")
	newer := filepath.Join(dir, "price_points_20260802_030000.sql.gz")
	ignored := filepath.Join(dir, "price_points_20260803_030000.sql")
	for _, p := range []string{older, newer, ignored} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	files, err := m.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(files))
	}
	if files[0].Path != newer {
		t.Errorf("expected newest first, got %s", files[0].Name)
	}
}

func TestReadArtifact_CorruptGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sql.gz")
	if err := os.WriteFile(path, []byte("not gzip at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(nil, dir)
	if _, err := m.readArtifact(path); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for corrupt gzip, got %v", err)
	}
}
