package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"archivist/internal/logging"
	"archivist/internal/metadata"
	"archivist/internal/textutil"
)

// Fixed columns present in every partition table.
const (
	colIdentity    = "identity"
	colFilename    = "filename"
	colContentHash = "content_hash"
	colSourceID    = "source_id"
	colConfidence  = "confidence"
	colIngestedAt  = "ingested_at"
)

// AttrPrefix is prepended to attribute keys that collide with fixed columns.
const AttrPrefix = "attr_"

var fixedColumns = map[string]struct{}{
	colIdentity:    {},
	colFilename:    {},
	colContentHash: {},
	colSourceID:    {},
	colConfidence:  {},
	colIngestedAt:  {},
	"rowid":        {},
	"oid":          {},
	"_rowid_":      {},
}

// ColumnName maps an attribute key to its preferred column. The column a key
// actually uses is recorded in the registry and may carry a numeric suffix
// when the preferred name is already taken by a key differing only in case.
func ColumnName(key string) string {
	if _, reserved := fixedColumns[strings.ToLower(key)]; reserved {
		return AttrPrefix + key
	}
	return key
}

// EnsurePartition creates the partition's table if absent and returns the
// stored partition name. Partition names are case-insensitive; the spelling of
// the first creation is kept.
func (s *Store) EnsurePartition(ctx context.Context, name string) (string, error) {
	var canonical string
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		var err error
		canonical, err = s.ensurePartitionTx(ctx, tx, name)
		return err
	})
	return canonical, err
}

func (s *Store) ensurePartitionTx(ctx context.Context, tx *sql.Tx, name string) (string, error) {
	sanitized := metadata.SanitizePartition(name)
	if info, err := lookupPartition(ctx, tx, sanitized); err == nil {
		return info.Name, nil
	} else if !isNotFound(err) {
		return "", err
	}

	table := textutil.QuoteIdentifier(sanitized)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			identity TEXT PRIMARY KEY,
			filename TEXT,
			content_hash TEXT,
			source_id TEXT,
			confidence TEXT NOT NULL DEFAULT 'high',
			ingested_at TEXT NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (filename)`, indexName(sanitized, colFilename), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (content_hash)`, indexName(sanitized, colContentHash), table),
		sourceIDIndexSQL(sanitized),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return "", &SchemaError{Partition: sanitized, Err: err}
		}
	}
	if err := registerPartition(ctx, tx, sanitized); err != nil {
		return "", err
	}
	s.logger.Info("partition created",
		logging.Partition(sanitized),
		logging.EventType("partition_created"),
	)
	return sanitized, nil
}

func sourceIDIndexSQL(partition string) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_id)`,
		indexName(partition, colSourceID), textutil.QuoteIdentifier(partition))
}

func indexName(partition, column string) string {
	return textutil.QuoteIdentifier(metadata.ReservedPrefix + "idx_" + partition + "_" + column)
}

// boundValue is one attribute ready for the INSERT statement.
type boundValue struct {
	column string
	value  any
}

// columnSet is a partition's registry indexed by attribute key, plus the
// lowercased column names in use (SQLite column names ignore case).
type columnSet struct {
	byKey map[string]Column
	names map[string]struct{}
}

func newColumnSet(cols []Column) *columnSet {
	set := &columnSet{
		byKey: make(map[string]Column, len(cols)),
		names: make(map[string]struct{}, len(cols)),
	}
	for _, c := range cols {
		set.add(c)
	}
	return set
}

func (c *columnSet) add(col Column) {
	c.byKey[col.Key] = col
	c.names[strings.ToLower(col.Name)] = struct{}{}
}

func (c *columnSet) taken(name string) bool {
	lower := strings.ToLower(name)
	if _, fixed := fixedColumns[lower]; fixed {
		return true
	}
	_, used := c.names[lower]
	return used
}

// allocate returns base, or base_2, base_3... when base is in use.
func (c *columnSet) allocate(base string) string {
	name := base
	for n := 2; c.taken(name); n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	return name
}

// bindValue converts v for a column of the given kind. Numbers whose source
// literal is not canonical are bound as that literal so it reads back
// unchanged; columns carry no declared type, so the text is stored as is.
func bindValue(v metadata.Value, kind metadata.Kind) (any, bool) {
	stored, ok := v.As(kind)
	if !ok || kind == metadata.KindText || v.Canonical() {
		return stored, ok
	}
	return v.Literal, true
}

// ensureColumns evolves the partition so every key in doc has its own column
// and returns the values coerced to each column's registered type. The first
// document introducing a key fixes its type; a value that cannot be stored
// losslessly in that type widens the column to TEXT.
func (s *Store) ensureColumns(ctx context.Context, tx *sql.Tx, partition string, doc metadata.Document) ([]boundValue, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	registered, err := listColumns(ctx, tx, partition)
	if err != nil {
		return nil, err
	}
	registry := newColumnSet(registered)

	version := 0
	nextVersion := func() (int, error) {
		if version == 0 {
			v, err := bumpSchemaVersion(ctx, tx, partition)
			if err != nil {
				return 0, err
			}
			version = v
		}
		return version, nil
	}

	table := textutil.QuoteIdentifier(partition)
	bound := make([]boundValue, 0, len(doc))
	for _, key := range doc.Keys() {
		value := doc[key]

		col, known := registry.byKey[key]
		if !known {
			v, err := nextVersion()
			if err != nil {
				return nil, err
			}
			preferred := ColumnName(key)
			name := registry.allocate(preferred)
			// No declared type: values keep the storage class they are bound with.
			stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, table, textutil.QuoteIdentifier(name))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return nil, &SchemaError{Partition: partition, Column: name, Err: err}
			}
			col = Column{Partition: partition, Key: key, Name: name, Type: value.Kind, AddedAt: nowUTC(), Version: v}
			if err := registerColumn(ctx, tx, col); err != nil {
				return nil, &SchemaError{Partition: partition, Column: name, Err: err}
			}
			registry.add(col)
			s.logger.Debug("column added",
				logging.Partition(partition),
				logging.String("column", name),
				logging.String("type", col.Type.String()),
				logging.EventType("column_added"),
			)
			if name != preferred {
				s.logger.Info("attribute key stored under suffixed column",
					logging.Partition(partition),
					logging.String("key", key),
					logging.String("column", name),
					logging.EventType("column_renamed"),
				)
			}
		}

		stored, ok := bindValue(value, col.Type)
		if !ok {
			v, err := nextVersion()
			if err != nil {
				return nil, err
			}
			if err := widenColumn(ctx, tx, partition, col.Name, metadata.KindText, v); err != nil {
				return nil, &SchemaError{Partition: partition, Column: col.Name, Err: err}
			}
			s.logger.Info("column widened to TEXT",
				logging.Partition(partition),
				logging.String("column", col.Name),
				logging.String("from", col.Type.String()),
				logging.String("value_type", value.Kind.String()),
				logging.EventType("column_widened"),
			)
			col.Type = metadata.KindText
			col.Version = v
			registry.add(col)
			stored, _ = bindValue(value, metadata.KindText)
		}
		bound = append(bound, boundValue{column: col.Name, value: stored})
	}

	return bound, nil
}
