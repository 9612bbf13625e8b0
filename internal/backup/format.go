// Package backup produces and restores compressed snapshots of the
// price table.
package backup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// FormatVersion identifies the snapshot layout this package writes.
const FormatVersion = "1.0"

const (
	headerPrefix   = "-- "
	nullLiteral    = `\N`
	dataTerminator = `\.`
)

// Metadata is the `-- ` comment header at the top of every snapshot.
type Metadata struct {
	BackupDate    time.Time
	Table         string
	RowCount      int64
	FormatVersion string
}

func writeMetadata(w io.Writer, meta Metadata) error {
	_, err := fmt.Fprintf(w,
		"-- Backup Date: %s\n-- Table: %s\n-- Row Count: %d\n-- Format Version: %s\n\n",
		meta.BackupDate.UTC().Format(time.RFC3339),
		meta.Table, meta.RowCount, meta.FormatVersion)
	return err
}

// snapshot is a fully parsed backup artifact. Rows hold one value per
// column; nil marks SQL NULL.
type snapshot struct {
	Meta    Metadata
	Schema  string
	Columns []string
	Rows    [][]*string
}

// parseSnapshot reads a decompressed snapshot. The header must carry at
// least a backup date and a row count or the artifact is rejected as
// ErrInvalidFormat.
func parseSnapshot(r io.Reader) (*snapshot, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	snap := &snapshot{Meta: Metadata{RowCount: -1}}
	var schema strings.Builder
	inData := false
	terminated := false

	for scanner.Scan() {
		line := scanner.Text()

		if inData {
			if line == dataTerminator {
				inData = false
				terminated = true
				continue
			}
			row, err := parseDataLine(line, len(snap.Columns))
			if err != nil {
				return nil, err
			}
			snap.Rows = append(snap.Rows, row)
			continue
		}

		switch {
		case strings.HasPrefix(line, headerPrefix):
			parseMetadataLine(&snap.Meta, strings.TrimPrefix(line, headerPrefix))
		case strings.HasPrefix(line, "COPY "):
			cols, err := parseCopyLine(line)
			if err != nil {
				return nil, err
			}
			snap.Columns = cols
			inData = true
		case strings.TrimSpace(line) == "":
			// Blank separator between sections.
		default:
			schema.WriteString(line)
			schema.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if snap.Meta.BackupDate.IsZero() || snap.Meta.RowCount < 0 {
		return nil, fmt.Errorf("%w: metadata header missing backup date or row count",
			ErrInvalidFormat)
	}
	if len(snap.Columns) == 0 || !terminated {
		return nil, fmt.Errorf("%w: data section missing or unterminated", ErrInvalidFormat)
	}
	snap.Schema = strings.TrimSpace(schema.String())
	return snap, nil
}

func parseMetadataLine(meta *Metadata, line string) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return
	}
	value = strings.TrimSpace(value)

	switch strings.TrimSpace(key) {
	case "Backup Date":
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			meta.BackupDate = t
		}
	case "Table":
		meta.Table = value
	case "Row Count":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			meta.RowCount = n
		}
	case "Format Version":
		meta.FormatVersion = value
	}
}

// parseCopyLine extracts the column list from a
// `COPY table (a, b, c) FROM stdin;` header.
func parseCopyLine(line string) ([]string, error) {
	open := strings.Index(line, "(")
	end := strings.Index(line, ")")
	if open < 0 || end < open {
		return nil, fmt.Errorf("%w: malformed COPY header %q", ErrInvalidFormat, line)
	}

	parts := strings.Split(line[open+1:end], ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			cols = append(cols, name)
		}
	}
	return cols, nil
}

func parseDataLine(line string, want int) ([]*string, error) {
	fields := strings.Split(line, "\t")
	if want > 0 && len(fields) != want {
		return nil, fmt.Errorf("%w: data row has %d fields, want %d",
			ErrInvalidFormat, len(fields), want)
	}

	row := make([]*string, len(fields))
	for i, f := range fields {
		if f == nullLiteral {
			continue
		}
		v := unescapeField(f)
		row[i] = &v
	}
	return row, nil
}

func writeCopyHeader(w io.Writer, table string, columns []string) error {
	_, err := fmt.Fprintf(w, "\nCOPY %s (%s) FROM stdin;\n",
		table, strings.Join(columns, ", "))
	return err
}

func writeDataLine(w io.Writer, fields []*string) error {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if f == nil {
			parts[i] = nullLiteral
		} else {
			parts[i] = escapeField(*f)
		}
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, "\t"))
	return err
}

// escapeField applies bulk-copy text escaping to one value.
func escapeField(s string) string {
	if !strings.ContainsAny(s, "\\\t\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeField(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if !escaped {
			if r == '\\' {
				escaped = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteRune(r)
		}
		escaped = false
	}
	return b.String()
}
