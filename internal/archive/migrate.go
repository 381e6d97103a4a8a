package archive

import (
	"context"
	"fmt"
	"strings"

	"archivist/internal/identity"
	"archivist/internal/logging"
	"archivist/internal/textutil"
)

// upgradeLayout brings a version 1 archive to the current layout in one
// transaction: every partition gains the indexed source_id column, and every
// registered column records the attribute key it holds.
func (s *Store) upgradeLayout(ctx context.Context, from int) error {
	if from != 1 {
		return fmt.Errorf("%w: archive has version %d, expected %d", ErrLayoutMismatch, from, layoutVersion)
	}
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upgrade tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `ALTER TABLE archive_columns ADD COLUMN attr_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add registry key column: %w", err)
		}
		partitions, err := listPartitions(ctx, tx)
		if err != nil {
			return err
		}
		for _, p := range partitions {
			if err := upgradePartition(ctx, tx, p); err != nil {
				return fmt.Errorf("upgrade partition %q: %w", p.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE archive_layout_version SET version = ?`, layoutVersion); err != nil {
			return fmt.Errorf("record layout version: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	s.logger.Info("archive layout upgraded",
		logging.Path(s.path),
		logging.Int("from", from),
		logging.Int("to", layoutVersion),
		logging.EventType("layout_upgraded"),
	)
	return nil
}

func upgradePartition(ctx context.Context, q querier, p PartitionInfo) error {
	cols, err := listColumns(ctx, q, p.Name)
	if err != nil {
		return err
	}
	table := textutil.QuoteIdentifier(p.Name)
	used := newColumnSet(nil)
	for _, c := range cols {
		used.names[strings.ToLower(c.Name)] = struct{}{}
	}

	for _, c := range cols {
		key, name := legacyKey(c.Name), c.Name
		// an attribute that claimed source_id moves aside for the fixed column
		if strings.EqualFold(c.Name, colSourceID) {
			name = used.allocate(ColumnName(c.Name))
			used.names[strings.ToLower(name)] = struct{}{}
			if _, err := q.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`,
				table, textutil.QuoteIdentifier(c.Name), textutil.QuoteIdentifier(name))); err != nil {
				return fmt.Errorf("rename column %q: %w", c.Name, err)
			}
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE archive_columns SET attr_key = ?, name = ? WHERE partition = ? AND name = ?`,
			key, name, p.Name, c.Name); err != nil {
			return fmt.Errorf("record key for %q: %w", c.Name, err)
		}
	}

	if _, err := q.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN source_id TEXT`, table)); err != nil {
		return fmt.Errorf("add source_id column: %w", err)
	}
	if _, err := q.ExecContext(ctx, sourceIDIndexSQL(p.Name)); err != nil {
		return fmt.Errorf("index source_id: %w", err)
	}
	if p.Scheme == identity.SchemeSourceID.Keyspace() {
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET source_id = identity`, table)); err != nil {
			return fmt.Errorf("backfill source_id: %w", err)
		}
	}
	return nil
}

// legacyKey recovers the attribute key of a version 1 column, where keys
// naming a fixed column were stored with AttrPrefix.
func legacyKey(column string) string {
	if len(column) <= len(AttrPrefix) || !strings.EqualFold(column[:len(AttrPrefix)], AttrPrefix) {
		return column
	}
	rest := column[len(AttrPrefix):]
	lower := strings.ToLower(rest)
	if _, fixed := fixedColumns[lower]; fixed && lower != colSourceID {
		return rest
	}
	return column
}
