package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"archivist/internal/identity"
	"archivist/internal/logging"
	"archivist/internal/metadata"
	"archivist/internal/textutil"
)

// Record is one item handed to the store.
type Record struct {
	Partition  string
	Identity   identity.Identity
	Filename   string
	Attributes metadata.Document
}

// Entry is the per-record projection used by existence checks and sweeps.
type Entry struct {
	Partition   string
	Identity    string
	Filename    string
	ContentHash string
	SourceID    string
	Confidence  identity.Confidence
}

// StoredRecord is a record read back from the archive. Attributes are keyed
// by column name.
type StoredRecord struct {
	Entry
	IngestedAt string
	Attributes metadata.Document
}

// Scope limits an existence check to one partition or all of them.
type Scope struct {
	partition string
}

// ScopeAll checks every partition known to the archive.
var ScopeAll = Scope{}

// ScopePartition checks a single partition.
func ScopePartition(name string) Scope {
	return Scope{partition: metadata.SanitizePartition(name)}
}

// IsAll reports whether the scope spans every partition.
func (s Scope) IsAll() bool { return s.partition == "" }

// InsertIfAbsent stores rec unless its identity already exists in the
// partition and reports whether a row was written. The partition is created
// and its schema evolved in the same transaction, so new columns are added even
// when the row itself already exists. Existing rows are never updated.
func (s *Store) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	value := strings.TrimSpace(rec.Identity.Value)
	if value == "" {
		return false, fmt.Errorf("insert: %w", identity.ErrIdentityUnavailable)
	}
	confidence := rec.Identity.Confidence
	if confidence == "" {
		confidence = identity.ConfidenceHigh
	}
	keyspace := rec.Identity.Scheme.Keyspace()
	sourceID := strings.TrimSpace(rec.Identity.SourceID)
	if sourceID == "" && rec.Identity.Scheme == identity.SchemeSourceID {
		sourceID = value
	}

	var inserted bool
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		inserted = false
		partition, err := s.ensurePartitionTx(ctx, tx, rec.Partition)
		if err != nil {
			return err
		}
		info, err := lookupPartition(ctx, tx, partition)
		if err != nil {
			return err
		}
		switch info.Scheme {
		case "":
			if err := setPartitionScheme(ctx, tx, partition, keyspace); err != nil {
				return err
			}
		case keyspace:
		default:
			return fmt.Errorf("%w: partition %q holds %s identities, got %s",
				ErrSchemeMismatch, partition, info.Scheme, keyspace)
		}

		attrs, err := s.ensureColumns(ctx, tx, partition, rec.Attributes)
		if err != nil {
			return err
		}

		columns := []string{colIdentity, colFilename, colContentHash, colSourceID, colConfidence, colIngestedAt}
		args := []any{value, nullable(rec.Filename), nullable(rec.Identity.ContentHash), nullable(sourceID), string(confidence), nowUTC()}
		for _, a := range attrs {
			columns = append(columns, a.column)
			args = append(args, a.value)
		}
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = textutil.QuoteIdentifier(c)
		}
		stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(identity) DO NOTHING`,
			textutil.QuoteIdentifier(partition),
			strings.Join(quoted, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
		)
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("insert into %q: %w", partition, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert rows affected: %w", err)
		}
		inserted = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	if inserted {
		s.logger.Debug("record inserted",
			logging.Partition(metadata.SanitizePartition(rec.Partition)),
			logging.Identity(value),
			logging.EventType("record_inserted"),
		)
	}
	return inserted, nil
}

// Exists reports whether value is archived within scope, matching the
// identity, the stored content hash or the stored source ID.
func (s *Store) Exists(ctx context.Context, value string, scope Scope) (bool, error) {
	found, err := s.Locate(ctx, value, scope)
	return len(found) > 0, err
}

// Locate returns every partition in scope holding value as an identity,
// content hash or source ID. The partition list is read fresh on every call.
func (s *Store) Locate(ctx context.Context, value string, scope Scope) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	partitions, err := s.scopePartitions(ctx, scope)
	if err != nil {
		return nil, err
	}
	var found []string
	for _, p := range partitions {
		var one int
		err := s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT 1 FROM %s WHERE identity = ? OR content_hash = ? OR source_id = ? LIMIT 1`, textutil.QuoteIdentifier(p)),
			value, value, value,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return found, fmt.Errorf("check partition %q: %w", p, err)
		}
		found = append(found, p)
	}
	return found, nil
}

// ExistsFilename reports the partitions holding a record whose file had the
// given base name.
func (s *Store) ExistsFilename(ctx context.Context, filename string) ([]string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, nil
	}
	partitions, err := s.scopePartitions(ctx, ScopeAll)
	if err != nil {
		return nil, err
	}
	var found []string
	for _, p := range partitions {
		var one int
		err := s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT 1 FROM %s WHERE filename = ? LIMIT 1`, textutil.QuoteIdentifier(p)), filename,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return found, fmt.Errorf("check partition %q: %w", p, err)
		}
		found = append(found, p)
	}
	return found, nil
}

func (s *Store) scopePartitions(ctx context.Context, scope Scope) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	if !scope.IsAll() {
		info, err := lookupPartition(ctx, s.db, scope.partition)
		if isNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []string{info.Name}, nil
	}
	infos, err := listPartitions(ctx, s.db)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

// EnumerateAll calls fn for every record in every partition. Each call reads
// the current partition list, so partitions created since the last call are
// included. Returning an error from fn stops the enumeration with that error.
func (s *Store) EnumerateAll(ctx context.Context, fn func(Entry) error) error {
	partitions, err := s.scopePartitions(ctx, ScopeAll)
	if err != nil {
		return err
	}
	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enumeratePartition(ctx, p, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) enumeratePartition(ctx context.Context, partition string, fn func(Entry) error) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT identity, filename, content_hash, source_id, confidence FROM %s ORDER BY rowid`, textutil.QuoteIdentifier(partition)))
	if err != nil {
		return fmt.Errorf("enumerate partition %q: %w", partition, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e        = Entry{Partition: partition}
			filename   sql.NullString
			hash       sql.NullString
			sourceID   sql.NullString
			confidence string
		)
		if err := rows.Scan(&e.Identity, &filename, &hash, &sourceID, &confidence); err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}
		e.Filename = filename.String
		e.ContentHash = hash.String
		e.SourceID = sourceID.String
		e.Confidence = identity.Confidence(confidence)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Get reads one record with its attributes converted to their registered
// column types.
func (s *Store) Get(ctx context.Context, partition, value string) (StoredRecord, error) {
	if s.db == nil {
		return StoredRecord{}, fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	info, err := lookupPartition(ctx, s.db, metadata.SanitizePartition(partition))
	if err != nil {
		return StoredRecord{}, err
	}
	registry, err := listColumns(ctx, s.db, info.Name)
	if err != nil {
		return StoredRecord{}, err
	}

	selected := []string{colIdentity, colFilename, colContentHash, colSourceID, colConfidence, colIngestedAt}
	for _, c := range registry {
		selected = append(selected, c.Name)
	}
	quoted := make([]string, len(selected))
	for i, c := range selected {
		quoted[i] = textutil.QuoteIdentifier(c)
	}
	raw := make([]any, len(selected))
	ptrs := make([]any, len(selected))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE identity = ?`,
		strings.Join(quoted, ", "), textutil.QuoteIdentifier(info.Name)), value).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredRecord{}, fmt.Errorf("record %q in %q: %w", value, info.Name, ErrNotFound)
	}
	if err != nil {
		return StoredRecord{}, fmt.Errorf("get record: %w", err)
	}

	rec := StoredRecord{
		Entry: Entry{
			Partition:   info.Name,
			Identity:    asString(raw[0]),
			Filename:    asString(raw[1]),
			ContentHash: asString(raw[2]),
			SourceID:    asString(raw[3]),
			Confidence:  identity.Confidence(asString(raw[4])),
		},
		IngestedAt: asString(raw[5]),
		Attributes: make(metadata.Document, len(registry)),
	}
	for i, c := range registry {
		if v, ok := toValue(raw[6+i], c.Type); ok {
			rec.Attributes[c.Name] = v
		}
	}
	return rec, nil
}

// toValue converts a scanned SQLite value to the column's logical type.
// Text in a numeric column is a number literal bound by bindValue.
func toValue(raw any, kind metadata.Kind) (metadata.Value, bool) {
	var v metadata.Value
	switch val := raw.(type) {
	case nil:
		return metadata.Value{}, false
	case int64:
		v = metadata.Integer(val)
	case float64:
		v = metadata.Real(val)
	case []byte:
		v = metadata.Text(string(val))
	case string:
		v = metadata.Text(val)
	default:
		v = metadata.Text(fmt.Sprint(val))
	}
	if kind != metadata.KindText && v.Kind == metadata.KindText {
		if n, ok := metadata.ParseNumber(v.Text); ok {
			v = n
		}
	}
	switch {
	case kind == metadata.KindText && v.Kind != metadata.KindText:
		return metadata.Text(v.String()), true
	case kind == metadata.KindReal && v.Kind == metadata.KindInteger:
		widened := metadata.Real(float64(v.Int))
		if !v.Canonical() {
			widened.Literal = v.Literal
		}
		return widened, true
	}
	return v, true
}

func asString(raw any) string {
	switch val := raw.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
