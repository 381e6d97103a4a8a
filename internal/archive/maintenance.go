package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"archivist/internal/logging"
	"archivist/internal/metadata"
	"archivist/internal/textutil"
)

// PartitionStats summarizes one partition.
type PartitionStats struct {
	Name          string
	Scheme        string
	Records       int
	LowConfidence int
	Columns       int
	SchemaVersion int
}

// DatabaseHealth captures archive diagnostics.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	LayoutVersion    int
	Partitions       int
	TotalRecords     int
	// Drift lists registered columns missing from their partition table.
	Drift          []string
	MissingTables  []string
	IntegrityCheck bool
	Error          string
}

// Partitions lists every registered partition, ordered by name.
func (s *Store) Partitions(ctx context.Context) ([]PartitionInfo, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	return listPartitions(ctx, s.db)
}

// Columns returns the attribute columns of partition in the order they were
// added.
func (s *Store) Columns(ctx context.Context, partition string) ([]Column, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	info, err := lookupPartition(ctx, s.db, metadata.SanitizePartition(partition))
	if err != nil {
		return nil, err
	}
	return listColumns(ctx, s.db, info.Name)
}

// Stats returns per-partition record counts.
func (s *Store) Stats(ctx context.Context) ([]PartitionStats, error) {
	infos, err := s.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PartitionStats, 0, len(infos))
	for _, info := range infos {
		st := PartitionStats{Name: info.Name, Scheme: info.Scheme, SchemaVersion: info.SchemaVersion}
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT COUNT(1), COALESCE(SUM(CASE WHEN confidence = 'low' THEN 1 ELSE 0 END), 0) FROM %s`,
			textutil.QuoteIdentifier(info.Name)))
		if err := row.Scan(&st.Records, &st.LowConfidence); err != nil {
			return nil, fmt.Errorf("partition stats %q: %w", info.Name, err)
		}
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM archive_columns WHERE partition = ?`, info.Name).Scan(&st.Columns); err != nil {
			return nil, fmt.Errorf("column count %q: %w", info.Name, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// CheckHealth returns diagnostic information about the archive file.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("archive path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat archive: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("archive path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("archive connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping archive: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM archive_layout_version LIMIT 1").Scan(&health.LayoutVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read layout version: %w", err)
	}

	partitions, err := listPartitions(connCtx, s.db)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.Partitions = len(partitions)
	for _, p := range partitions {
		present, exists, err := tableColumns(connCtx, s.db, p.Name)
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		if !exists {
			health.MissingTables = append(health.MissingTables, p.Name)
			continue
		}
		registered, err := listColumns(connCtx, s.db, p.Name)
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		for _, c := range registered {
			if _, ok := present[strings.ToLower(c.Name)]; !ok {
				health.Drift = append(health.Drift, p.Name+"."+c.Name)
			}
		}
		var count int
		if err := s.db.QueryRowContext(connCtx, fmt.Sprintf(`SELECT COUNT(1) FROM %s`,
			textutil.QuoteIdentifier(p.Name))).Scan(&count); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count partition %q: %w", p.Name, err)
		}
		health.TotalRecords += count
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// tableColumns returns the lowercased column names of table and whether the
// table exists.
func tableColumns(ctx context.Context, q querier, table string) (map[string]struct{}, bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", textutil.QuoteIdentifier(table)))
	if err != nil {
		return nil, false, fmt.Errorf("table info %q: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			return nil, false, fmt.Errorf("scan table info: %w", err)
		}
		cols[strings.ToLower(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate table info: %w", err)
	}
	return cols, len(cols) > 0, nil
}

// DeleteRecord removes one record. It refuses to run unless confirmed and
// reports whether a row was deleted.
func (s *Store) DeleteRecord(ctx context.Context, partition, value string, confirmed bool) (bool, error) {
	if !confirmed {
		return false, ErrNotConfirmed
	}
	var deleted bool
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		deleted = false
		info, err := lookupPartition(ctx, tx, metadata.SanitizePartition(partition))
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE identity = ?`,
			textutil.QuoteIdentifier(info.Name)), value)
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete rows affected: %w", err)
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("record deleted",
			logging.Partition(metadata.SanitizePartition(partition)),
			logging.Identity(value),
			logging.EventType("record_deleted"),
		)
	}
	return deleted, nil
}

// DropPartition removes a partition table and its registry entries. It
// refuses to run unless confirmed.
func (s *Store) DropPartition(ctx context.Context, name string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	var dropped string
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		info, err := lookupPartition(ctx, tx, metadata.SanitizePartition(name))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`,
			textutil.QuoteIdentifier(info.Name))); err != nil {
			return fmt.Errorf("drop partition table: %w", err)
		}
		if err := unregisterPartition(ctx, tx, info.Name); err != nil {
			return err
		}
		dropped = info.Name
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("partition dropped",
		logging.Partition(dropped),
		logging.EventType("partition_dropped"),
	)
	return nil
}

// Clear drops every partition in one transaction and returns their names.
// The archive file and its layout stay in place. It refuses to run unless
// confirmed.
func (s *Store) Clear(ctx context.Context, confirmed bool) ([]string, error) {
	if !confirmed {
		return nil, ErrNotConfirmed
	}
	var dropped []string
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		dropped = nil
		partitions, err := listPartitions(ctx, tx)
		if err != nil {
			return err
		}
		for _, p := range partitions {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`,
				textutil.QuoteIdentifier(p.Name))); err != nil {
				return fmt.Errorf("drop partition %q: %w", p.Name, err)
			}
			if err := unregisterPartition(ctx, tx, p.Name); err != nil {
				return err
			}
			dropped = append(dropped, p.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("archive cleared",
		logging.Int("partitions", len(dropped)),
		logging.EventType("archive_cleared"),
	)
	return dropped, nil
}
