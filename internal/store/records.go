package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

// LastCapture returns the stored fingerprint and timestamps for code.
func (db *DB) LastCapture(ctx context.Context, code hscode.Code) (Capture, bool, error) {
	c := Capture{Code: code}
	err := db.conn.QueryRowContext(ctx,
		`SELECT fingerprint, version, captured_at, checked_at FROM records WHERE hs10 = ?`, string(code),
	).Scan(&c.Fingerprint, &c.Version, &c.CapturedAt, &c.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, false, nil
	}
	if err != nil {
		return Capture{}, false, fmt.Errorf("store: last capture %s: %w", code, err)
	}
	return c, true, nil
}

// CommitBatch writes every record of b with its ancestors, version row, change
// entry and the batch checkpoint in one transaction. Touched identifiers only
// have their check time refreshed.
func (db *DB) CommitBatch(ctx context.Context, b Batch) (CommitResult, error) {
	var res CommitResult
	at := b.At.UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, rec := range b.Records {
		if err := upsertAncestors(ctx, tx, rec.Hierarchy); err != nil {
			return CommitResult{}, err
		}
		prev, err := currentRecord(ctx, tx, rec.Code)
		if err != nil {
			return CommitResult{}, err
		}
		if err := CheckVersion(prev, rec); err != nil {
			return CommitResult{}, err
		}

		content, err := json.Marshal(rec.RecordContent)
		if err != nil {
			return CommitResult{}, fmt.Errorf("store: encode %s: %w", rec.Code, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (hs10, subheading_code, designation, version, fingerprint, content, captured_at, checked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(hs10) DO UPDATE SET
				subheading_code = excluded.subheading_code,
				designation     = excluded.designation,
				version         = excluded.version,
				fingerprint     = excluded.fingerprint,
				content         = excluded.content,
				captured_at     = excluded.captured_at,
				checked_at      = excluded.checked_at
		`, string(rec.Code), rec.Hierarchy.Subheading.Code, rec.Designation, rec.Version, rec.Fingerprint,
			string(content), CapturedAt(rec, at), at)
		if err != nil {
			return CommitResult{}, classify("upsert record "+string(rec.Code), err)
		}
		if err := searchUpsert(ctx, tx, rec.Code, rec.Designation); err != nil {
			return CommitResult{}, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_versions (hs10, version, fingerprint, content, captured_at, run_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(rec.Code), rec.Version, rec.Fingerprint, string(content), CapturedAt(rec, at), b.RunID)
		if err != nil {
			return CommitResult{}, classify("insert version "+string(rec.Code), err)
		}

		change := NewChange(b.RunID, at, prev, rec)
		if change.ID, err = insertChange(ctx, tx, change); err != nil {
			return CommitResult{}, err
		}
		res.Changes = append(res.Changes, change)
	}

	for _, code := range b.Touched {
		r, err := tx.ExecContext(ctx, `UPDATE records SET checked_at = ? WHERE hs10 = ?`, at, string(code))
		if err != nil {
			return CommitResult{}, classify("touch "+string(code), err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.Touched++
		}
	}

	if len(b.Records) > 0 {
		codes, _ := json.Marshal(b.Codes())
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_checkpoints (run_id, batch_seq, codes, last_code, committed_at)
			VALUES (?, ?, ?, ?, ?)
		`, b.RunID, b.Seq, string(codes), string(b.Records[len(b.Records)-1].Code), at)
		if err != nil {
			return CommitResult{}, classify("checkpoint", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, classify("commit", err)
	}
	return res, nil
}

// CapturedAt is when rec's content was observed, or the batch time when the
// record does not say.
func CapturedAt(rec models.CanonicalRecord, batchAt time.Time) time.Time {
	if rec.CapturedAt.IsZero() {
		return batchAt
	}
	return rec.CapturedAt.UTC()
}

// CheckVersion rejects a record whose version does not follow the stored one,
// which happens when another writer committed the same code concurrently.
func CheckVersion(prev *models.CanonicalRecord, rec models.CanonicalRecord) error {
	want := 1
	if prev != nil {
		want = prev.Version + 1
	}
	if rec.Version != want {
		return fmt.Errorf("store: %s version %d, expected %d: %w", rec.Code, rec.Version, want, ErrConstraint)
	}
	return nil
}

func upsertAncestors(ctx context.Context, tx *sql.Tx, h models.Hierarchy) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO sections (code, label) VALUES (?, ?)
			ON CONFLICT(code) DO UPDATE SET label = COALESCE(NULLIF(excluded.label, ''), sections.label)`,
			[]any{h.Section.Code, h.Section.Label}},
		{`INSERT INTO chapters (code, label, section_code) VALUES (?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				label = COALESCE(NULLIF(excluded.label, ''), chapters.label),
				section_code = excluded.section_code`,
			[]any{h.Chapter.Code, h.Chapter.Label, h.Section.Code}},
		{`INSERT INTO headings (code, label, chapter_code) VALUES (?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				label = COALESCE(NULLIF(excluded.label, ''), headings.label),
				chapter_code = excluded.chapter_code`,
			[]any{h.Heading.Code, h.Heading.Label, h.Chapter.Code}},
		{`INSERT INTO subheadings (code, label, heading_code) VALUES (?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				label = COALESCE(NULLIF(excluded.label, ''), subheadings.label),
				heading_code = excluded.heading_code`,
			[]any{h.Subheading.Code, h.Subheading.Label, h.Heading.Code}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return classify("upsert ancestors", err)
		}
	}
	return nil
}

func currentRecord(ctx context.Context, tx *sql.Tx, code hscode.Code) (*models.CanonicalRecord, error) {
	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT hs10, version, fingerprint, content, captured_at FROM records WHERE hs10 = ?`, string(code)))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func insertChange(ctx context.Context, tx *sql.Tx, c models.ChangeEntry) (int64, error) {
	newValue, _ := json.Marshal(c.NewValue)
	summary, _ := json.Marshal(c.Summary)
	var oldValue sql.NullString
	if c.OldValue != nil {
		b, _ := json.Marshal(c.OldValue)
		oldValue = sql.NullString{String: string(b), Valid: true}
	}
	r, err := tx.ExecContext(ctx, `
		INSERT INTO record_changes (hs10, kind, old_version, new_version, old_fingerprint, new_fingerprint,
			old_value, new_value, summary, run_id, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(c.Code), string(c.Kind), c.OldVersion, c.NewVersion, c.OldFingerprint, c.NewFingerprint,
		oldValue, string(newValue), string(summary), c.RunID, c.ChangedAt)
	if err != nil {
		return 0, classify("insert change "+string(c.Code), err)
	}
	return r.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.CanonicalRecord, error) {
	var (
		rec     models.CanonicalRecord
		code    string
		content string
	)
	err := row.Scan(&code, &rec.Version, &rec.Fingerprint, &content, &rec.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, apperr.ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("store: scan record: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &rec.RecordContent); err != nil {
		return rec, fmt.Errorf("store: decode record %s: %w", code, err)
	}
	rec.Code = hscode.Code(code)
	return rec, nil
}

// GetRecord returns the current version of code.
func (db *DB) GetRecord(ctx context.Context, code hscode.Code) (models.CanonicalRecord, error) {
	rec, err := scanRecord(db.conn.QueryRowContext(ctx,
		`SELECT hs10, version, fingerprint, content, captured_at FROM records WHERE hs10 = ?`, string(code)))
	if err != nil {
		return rec, fmt.Errorf("get record %s: %w", code, err)
	}
	return rec, nil
}

// RecordVersions returns every stored version of code, newest first.
func (db *DB) RecordVersions(ctx context.Context, code hscode.Code) ([]models.CanonicalRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT hs10, version, fingerprint, content, captured_at FROM record_versions
		WHERE hs10 = ? ORDER BY version DESC
	`, string(code))
	if err != nil {
		return nil, fmt.Errorf("store: record versions: %w", err)
	}
	defer rows.Close()

	var out []models.CanonicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordChanges returns the change log of code, newest first.
func (db *DB) RecordChanges(ctx context.Context, code hscode.Code, limit int) ([]models.ChangeEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, hs10, kind, old_version, new_version, old_fingerprint, new_fingerprint,
			old_value, new_value, summary, run_id, changed_at
		FROM record_changes WHERE hs10 = ? ORDER BY id DESC LIMIT ?
	`, string(code), Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: record changes: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeEntry
	for rows.Next() {
		var (
			c                 models.ChangeEntry
			hs10, kind        string
			oldValue          sql.NullString
			newValue, summary string
		)
		if err := rows.Scan(&c.ID, &hs10, &kind, &c.OldVersion, &c.NewVersion, &c.OldFingerprint,
			&c.NewFingerprint, &oldValue, &newValue, &summary, &c.RunID, &c.ChangedAt); err != nil {
			return nil, err
		}
		c.Code = hscode.Code(hs10)
		c.Kind = models.ChangeKind(kind)
		if err := DecodeChange(&c, oldValue.String, newValue, summary); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DecodeChange fills the JSON columns of a change entry. oldValue may be empty.
func DecodeChange(c *models.ChangeEntry, oldValue, newValue, summary string) error {
	if oldValue != "" {
		c.OldValue = new(models.RecordContent)
		if err := json.Unmarshal([]byte(oldValue), c.OldValue); err != nil {
			return fmt.Errorf("store: decode change %d: %w", c.ID, err)
		}
	}
	c.NewValue = new(models.RecordContent)
	if err := json.Unmarshal([]byte(newValue), c.NewValue); err != nil {
		return fmt.Errorf("store: decode change %d: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(summary), &c.Summary); err != nil {
		return fmt.Errorf("store: decode change %d: %w", c.ID, err)
	}
	return nil
}

// SearchPatterns builds the LIKE patterns for a designation substring match and
// a code prefix match. A query without digits never matches codes.
func SearchPatterns(q string) (designation, codePrefix string) {
	q = strings.TrimSpace(q)
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	designation = "%" + esc + "%"

	var digits strings.Builder
	for _, r := range q {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.' || r == ' ':
		default:
			return designation, "-"
		}
	}
	if digits.Len() == 0 {
		return designation, "-"
	}
	return designation, digits.String() + "%"
}

func scanSummaries(rows *sql.Rows) ([]models.RecordSummary, error) {
	defer rows.Close()
	out := []models.RecordSummary{}
	for rows.Next() {
		var (
			s    models.RecordSummary
			code string
		)
		if err := rows.Scan(&code, &s.Designation, &s.Version, &s.Fingerprint, &s.CapturedAt); err != nil {
			return nil, err
		}
		s.Code = hscode.Code(code)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRecords pages through current records in code order.
func (db *DB) ListRecords(ctx context.Context, after hscode.Code, limit int) ([]models.CanonicalRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT hs10, version, fingerprint, content, captured_at FROM records
		WHERE hs10 > ? ORDER BY hs10 LIMIT ?
	`, string(after), Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var out []models.CanonicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
