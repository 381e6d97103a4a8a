package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"archivist/internal/metadata"
)

// PartitionInfo describes one registered partition.
type PartitionInfo struct {
	Name string
	// Scheme is the identity keyspace fixed by the first insert; empty until then.
	Scheme        string
	CreatedAt     string
	SchemaVersion int
}

// Column is one registry entry. Key is the attribute key stored in the
// column named Name. Type is the logical type all values in the column are
// coerced to; Version is the partition schema version at which the column was
// added or last widened.
type Column struct {
	Partition string
	Key       string
	Name      string
	Type      metadata.Kind
	AddedAt   string
	Version   int
}

func lookupPartition(ctx context.Context, q querier, name string) (PartitionInfo, error) {
	var info PartitionInfo
	err := q.QueryRowContext(ctx,
		`SELECT name, scheme, created_at, schema_version FROM archive_partitions WHERE name = ?`, name,
	).Scan(&info.Name, &info.Scheme, &info.CreatedAt, &info.SchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return PartitionInfo{}, fmt.Errorf("partition %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return PartitionInfo{}, fmt.Errorf("lookup partition %q: %w", name, err)
	}
	return info, nil
}

func listPartitions(ctx context.Context, q querier) ([]PartitionInfo, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, scheme, created_at, schema_version FROM archive_partitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var out []PartitionInfo
	for rows.Next() {
		var info PartitionInfo
		if err := rows.Scan(&info.Name, &info.Scheme, &info.CreatedAt, &info.SchemaVersion); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func registerPartition(ctx context.Context, q querier, name string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO archive_partitions (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, nowUTC())
	if err != nil {
		return fmt.Errorf("register partition %q: %w", name, err)
	}
	return nil
}

func setPartitionScheme(ctx context.Context, q querier, name, scheme string) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE archive_partitions SET scheme = ? WHERE name = ? AND scheme = ''`, scheme, name); err != nil {
		return fmt.Errorf("set partition scheme: %w", err)
	}
	return nil
}

// bumpSchemaVersion increments and returns the partition's schema version.
func bumpSchemaVersion(ctx context.Context, q querier, name string) (int, error) {
	if _, err := q.ExecContext(ctx,
		`UPDATE archive_partitions SET schema_version = schema_version + 1 WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("bump schema version: %w", err)
	}
	var version int
	if err := q.QueryRowContext(ctx,
		`SELECT schema_version FROM archive_partitions WHERE name = ?`, name).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func listColumns(ctx context.Context, q querier, partition string) ([]Column, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT partition, attr_key, name, type, added_at, version FROM archive_columns
		 WHERE partition = ? ORDER BY version, name`, partition)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var (
			c       Column
			typeStr string
		)
		if err := rows.Scan(&c.Partition, &c.Key, &c.Name, &typeStr, &c.AddedAt, &c.Version); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if c.Key == "" {
			c.Key = c.Name
		}
		c.Type = metadata.ParseKind(typeStr)
		out = append(out, c)
	}
	return out, rows.Err()
}

func registerColumn(ctx context.Context, q querier, c Column) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO archive_columns (partition, attr_key, name, type, added_at, version) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Partition, c.Key, c.Name, c.Type.String(), c.AddedAt, c.Version)
	if err != nil {
		return fmt.Errorf("register column %q: %w", c.Name, err)
	}
	return nil
}

func widenColumn(ctx context.Context, q querier, partition, name string, kind metadata.Kind, version int) error {
	_, err := q.ExecContext(ctx,
		`UPDATE archive_columns SET type = ?, version = ? WHERE partition = ? AND name = ?`,
		kind.String(), version, partition, name)
	if err != nil {
		return fmt.Errorf("widen column %q: %w", name, err)
	}
	return nil
}

func unregisterPartition(ctx context.Context, q querier, name string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM archive_columns WHERE partition = ?`, name); err != nil {
		return fmt.Errorf("unregister columns: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM archive_partitions WHERE name = ?`, name); err != nil {
		return fmt.Errorf("unregister partition: %w", err)
	}
	return nil
}
