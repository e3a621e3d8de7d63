package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

// LastCapture returns the stored fingerprint and timestamps for code.
func (s *Store) LastCapture(ctx context.Context, code hscode.Code) (store.Capture, bool, error) {
	c := store.Capture{Code: code}
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, version, captured_at, checked_at FROM records WHERE hs10 = $1`, string(code),
	).Scan(&c.Fingerprint, &c.Version, &c.CapturedAt, &c.CheckedAt)
	if isNoRows(err) {
		return store.Capture{}, false, nil
	}
	if err != nil {
		return store.Capture{}, false, fmt.Errorf("pgstore: last capture %s: %w", code, err)
	}
	return c, true, nil
}

// CommitBatch mirrors the SQLite implementation in one pgx transaction.
func (s *Store) CommitBatch(ctx context.Context, b store.Batch) (store.CommitResult, error) {
	var res store.CommitResult
	at := b.At.UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, rec := range b.Records {
		if err := upsertAncestors(ctx, tx, rec.Hierarchy); err != nil {
			return store.CommitResult{}, err
		}
		prev, err := currentRecord(ctx, tx, rec.Code)
		if err != nil {
			return store.CommitResult{}, err
		}
		if err := store.CheckVersion(prev, rec); err != nil {
			return store.CommitResult{}, err
		}

		content, err := json.Marshal(rec.RecordContent)
		if err != nil {
			return store.CommitResult{}, fmt.Errorf("pgstore: encode %s: %w", rec.Code, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO records (hs10, subheading_code, designation, version, fingerprint, content, captured_at, checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (hs10) DO UPDATE SET
				subheading_code = EXCLUDED.subheading_code,
				designation     = EXCLUDED.designation,
				version         = EXCLUDED.version,
				fingerprint     = EXCLUDED.fingerprint,
				content         = EXCLUDED.content,
				captured_at     = EXCLUDED.captured_at,
				checked_at      = EXCLUDED.checked_at
		`, string(rec.Code), rec.Hierarchy.Subheading.Code, rec.Designation, rec.Version, rec.Fingerprint, content,
			store.CapturedAt(rec, at), at)
		if err != nil {
			return store.CommitResult{}, classify("upsert record "+string(rec.Code), err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO record_versions (hs10, version, fingerprint, content, captured_at, run_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, string(rec.Code), rec.Version, rec.Fingerprint, content, store.CapturedAt(rec, at), b.RunID)
		if err != nil {
			return store.CommitResult{}, classify("insert version "+string(rec.Code), err)
		}

		change := store.NewChange(b.RunID, at, prev, rec)
		if change.ID, err = insertChange(ctx, tx, change); err != nil {
			return store.CommitResult{}, err
		}
		res.Changes = append(res.Changes, change)
	}

	if len(b.Touched) > 0 {
		codes := make([]string, len(b.Touched))
		for i, c := range b.Touched {
			codes[i] = string(c)
		}
		tag, err := tx.Exec(ctx, `UPDATE records SET checked_at = $1 WHERE hs10 = ANY($2)`, at, codes)
		if err != nil {
			return store.CommitResult{}, classify("touch", err)
		}
		res.Touched = int(tag.RowsAffected())
	}

	if len(b.Records) > 0 {
		codes, _ := json.Marshal(b.Codes())
		_, err = tx.Exec(ctx, `
			INSERT INTO run_checkpoints (run_id, batch_seq, codes, last_code, committed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, b.RunID, b.Seq, codes, string(b.Records[len(b.Records)-1].Code), at)
		if err != nil {
			return store.CommitResult{}, classify("checkpoint", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return store.CommitResult{}, classify("commit", err)
	}
	return res, nil
}

func upsertAncestors(ctx context.Context, tx pgx.Tx, h models.Hierarchy) error {
	b := &pgx.Batch{}
	b.Queue(`INSERT INTO sections (code, label) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET label = COALESCE(NULLIF(EXCLUDED.label, ''), sections.label)`,
		h.Section.Code, h.Section.Label)
	b.Queue(`INSERT INTO chapters (code, label, section_code) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET
			label = COALESCE(NULLIF(EXCLUDED.label, ''), chapters.label),
			section_code = EXCLUDED.section_code`,
		h.Chapter.Code, h.Chapter.Label, h.Section.Code)
	b.Queue(`INSERT INTO headings (code, label, chapter_code) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET
			label = COALESCE(NULLIF(EXCLUDED.label, ''), headings.label),
			chapter_code = EXCLUDED.chapter_code`,
		h.Heading.Code, h.Heading.Label, h.Chapter.Code)
	b.Queue(`INSERT INTO subheadings (code, label, heading_code) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET
			label = COALESCE(NULLIF(EXCLUDED.label, ''), subheadings.label),
			heading_code = EXCLUDED.heading_code`,
		h.Subheading.Code, h.Subheading.Label, h.Heading.Code)

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return classify("upsert ancestors", err)
		}
	}
	if err := br.Close(); err != nil {
		return classify("upsert ancestors", err)
	}
	return nil
}

func currentRecord(ctx context.Context, tx pgx.Tx, code hscode.Code) (*models.CanonicalRecord, error) {
	rec, err := scanRecord(tx.QueryRow(ctx,
		`SELECT hs10, version, fingerprint, content, captured_at FROM records WHERE hs10 = $1 FOR UPDATE`, string(code)))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func insertChange(ctx context.Context, tx pgx.Tx, c models.ChangeEntry) (int64, error) {
	newValue, _ := json.Marshal(c.NewValue)
	summary, _ := json.Marshal(c.Summary)
	var oldValue []byte
	if c.OldValue != nil {
		oldValue, _ = json.Marshal(c.OldValue)
	}
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO record_changes (hs10, kind, old_version, new_version, old_fingerprint, new_fingerprint,
			old_value, new_value, summary, run_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, string(c.Code), string(c.Kind), c.OldVersion, c.NewVersion, c.OldFingerprint, c.NewFingerprint,
		oldValue, newValue, summary, c.RunID, c.ChangedAt).Scan(&id)
	if err != nil {
		return 0, classify("insert change "+string(c.Code), err)
	}
	return id, nil
}

func scanRecord(row pgx.Row) (models.CanonicalRecord, error) {
	var (
		rec     models.CanonicalRecord
		code    string
		content []byte
	)
	err := row.Scan(&code, &rec.Version, &rec.Fingerprint, &content, &rec.CapturedAt)
	if isNoRows(err) {
		return rec, apperr.ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("pgstore: scan record: %w", err)
	}
	if err := json.Unmarshal(content, &rec.RecordContent); err != nil {
		return rec, fmt.Errorf("pgstore: decode record %s: %w", code, err)
	}
	rec.Code = hscode.Code(code)
	return rec, nil
}

// GetRecord returns the current version of code.
func (s *Store) GetRecord(ctx context.Context, code hscode.Code) (models.CanonicalRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT hs10, version, fingerprint, content, captured_at FROM records WHERE hs10 = $1`, string(code)))
	if err != nil {
		return rec, fmt.Errorf("get record %s: %w", code, err)
	}
	return rec, nil
}

func (s *Store) collectRecords(ctx context.Context, query string, args ...any) ([]models.CanonicalRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query records: %w", err)
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

// RecordVersions returns every stored version of code, newest first.
func (s *Store) RecordVersions(ctx context.Context, code hscode.Code) ([]models.CanonicalRecord, error) {
	return s.collectRecords(ctx, `
		SELECT hs10, version, fingerprint, content, captured_at FROM record_versions
		WHERE hs10 = $1 ORDER BY version DESC`, string(code))
}

// ListRecords pages through current records in code order.
func (s *Store) ListRecords(ctx context.Context, after hscode.Code, limit int) ([]models.CanonicalRecord, error) {
	return s.collectRecords(ctx, `
		SELECT hs10, version, fingerprint, content, captured_at FROM records
		WHERE hs10 > $1 ORDER BY hs10 LIMIT $2`, string(after), store.Limit(limit))
}

// RecordChanges returns the change log of code, newest first.
func (s *Store) RecordChanges(ctx context.Context, code hscode.Code, limit int) ([]models.ChangeEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hs10, kind, old_version, new_version, old_fingerprint, new_fingerprint,
			COALESCE(old_value::text, ''), new_value::text, summary::text, run_id, changed_at
		FROM record_changes WHERE hs10 = $1 ORDER BY id DESC LIMIT $2
	`, string(code), store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("pgstore: record changes: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeEntry
	for rows.Next() {
		var (
			c                           models.ChangeEntry
			hs10, kind                  string
			oldValue, newValue, summary string
		)
		if err := rows.Scan(&c.ID, &hs10, &kind, &c.OldVersion, &c.NewVersion, &c.OldFingerprint,
			&c.NewFingerprint, &oldValue, &newValue, &summary, &c.RunID, &c.ChangedAt); err != nil {
			return nil, err
		}
		c.Code = hscode.Code(hs10)
		c.Kind = models.ChangeKind(kind)
		if err := store.DecodeChange(&c, oldValue, newValue, summary); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchRecords matches q against designations (case-insensitive substring)
// and codes (prefix).
func (s *Store) SearchRecords(ctx context.Context, q string, limit int) ([]models.RecordSummary, error) {
	designation, prefix := store.SearchPatterns(q)
	rows, err := s.pool.Query(ctx, `
		SELECT hs10, designation, version, fingerprint, captured_at FROM records
		WHERE designation ILIKE $1 OR hs10 LIKE $2
		ORDER BY hs10 LIMIT $3
	`, designation, prefix, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("pgstore: search: %w", err)
	}
	defer rows.Close()

	out := []models.RecordSummary{}
	for rows.Next() {
		var (
			r    models.RecordSummary
			code string
		)
		if err := rows.Scan(&code, &r.Designation, &r.Version, &r.Fingerprint, &r.CapturedAt); err != nil {
			return nil, err
		}
		r.Code = hscode.Code(code)
		out = append(out, r)
	}
	return out, rows.Err()
}
