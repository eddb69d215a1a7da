package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/blockflow/internal/ir"
)

// ErrNotFound is returned when a flow or revision does not exist.
var ErrNotFound = errors.New("not found")

// FlowInfo describes the stored state of one flow.
type FlowInfo struct {
	Name          string
	Revision      int64
	ContentHash   string
	FormatVersion string
	EngineVersion string
	Seq           int64
}

// Revision is one row of a flow's history.
type Revision struct {
	Seq         int64
	Name        string
	Revision    int64
	ContentHash string
	Deleted     bool
}

// SaveFlow stores doc as the current state of the flow name.
// Saving a document whose content hash matches the stored one does nothing.
// Otherwise the revision is bumped and a history row is appended.
func (s *Store) SaveFlow(ctx context.Context, name string, doc map[string]any) error {
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return fmt.Errorf("save flow %s: %w", name, err)
	}
	hash, err := ir.FlowHash(doc)
	if err != nil {
		return fmt.Errorf("save flow %s: %w", name, err)
	}
	blob := s.codec.compress(data)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			revision int64
			current  string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT revision, content_hash FROM flows WHERE name = ?`, name,
		).Scan(&revision, &current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			revision = lastRevision(ctx, tx, name)
		case err != nil:
			return fmt.Errorf("save flow %s: %w", name, err)
		case current == hash:
			return nil
		}
		revision++

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return fmt.Errorf("save flow %s: %w", name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO flows (name, revision, content_hash, data, format_version, engine_version, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				revision = excluded.revision,
				content_hash = excluded.content_hash,
				data = excluded.data,
				format_version = excluded.format_version,
				engine_version = excluded.engine_version,
				seq = excluded.seq
		`, name, revision, hash, blob, ir.FormatVersion, ir.EngineVersion, seq)
		if err != nil {
			return fmt.Errorf("save flow %s: %w", name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_history (seq, name, revision, content_hash, data, deleted)
			VALUES (?, ?, ?, ?, ?, 0)
		`, seq, name, revision, hash, blob)
		if err != nil {
			return fmt.Errorf("save flow %s: %w", name, err)
		}
		return nil
	})
}

// LoadFlows returns the current document of every stored flow.
func (s *Store) LoadFlows(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, data FROM flows
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var (
			name string
			blob []byte
		)
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, fmt.Errorf("load flows: %w", err)
		}
		doc, err := s.decode(blob)
		if err != nil {
			return nil, fmt.Errorf("load flow %s: %w", name, err)
		}
		out[name] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	return out, nil
}

// LoadFlow returns the current document of one flow.
func (s *Store) LoadFlow(ctx context.Context, name string) (map[string]any, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM flows WHERE name = ?`, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load flow %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load flow %s: %w", name, err)
	}
	return s.decode(blob)
}

// LoadRevision returns the document of a past revision.
func (s *Store) LoadRevision(ctx context.Context, name string, revision int64) (map[string]any, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM flow_history
		WHERE name = ? AND revision = ? AND deleted = 0
	`, name, revision).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s@%d: %w", name, revision, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s@%d: %w", name, revision, err)
	}
	return s.decode(blob)
}

// DeleteFlow removes the flow. The delete is recorded in its history.
// Deleting a missing flow is a no-op.
func (s *Store) DeleteFlow(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			revision int64
			hash     string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT revision, content_hash FROM flows WHERE name = ?`, name,
		).Scan(&revision, &hash)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete flow %s: %w", name, err)
		}

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return fmt.Errorf("delete flow %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM flows WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete flow %s: %w", name, err)
		}
		// the tombstone takes the next revision so (name, revision) stays unique
		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_history (seq, name, revision, content_hash, data, deleted)
			VALUES (?, ?, ?, ?, NULL, 1)
		`, seq, name, revision+1, hash)
		if err != nil {
			return fmt.Errorf("delete flow %s: %w", name, err)
		}
		return nil
	})
}

// Flows lists every stored flow, ordered by name.
func (s *Store) Flows(ctx context.Context) ([]FlowInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, revision, content_hash, format_version, engine_version, seq
		FROM flows
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var out []FlowInfo
	for rows.Next() {
		var fi FlowInfo
		if err := rows.Scan(&fi.Name, &fi.Revision, &fi.ContentHash, &fi.FormatVersion, &fi.EngineVersion, &fi.Seq); err != nil {
			return nil, fmt.Errorf("list flows: %w", err)
		}
		out = append(out, fi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return out, nil
}

// History returns every revision of name, oldest first.
func (s *Store) History(ctx context.Context, name string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, name, revision, content_hash, deleted
		FROM flow_history
		WHERE name = ?
		ORDER BY seq ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", name, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.Seq, &r.Name, &r.Revision, &r.ContentHash, &r.Deleted); err != nil {
			return nil, fmt.Errorf("history %s: %w", name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history %s: %w", name, err)
	}
	return out, nil
}

func (s *Store) decode(blob []byte) (map[string]any, error) {
	data, err := s.codec.decompress(blob)
	if err != nil {
		return nil, err
	}
	return ir.Decode(data)
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM flow_history`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// lastRevision is the highest revision name ever had, so a flow saved
// again after a delete continues its numbering.
func lastRevision(ctx context.Context, tx *sql.Tx, name string) int64 {
	var rev int64
	tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) FROM flow_history WHERE name = ?`, name,
	).Scan(&rev)
	return rev
}
