// Package archive persists the record of every downloaded item in a single
// SQLite file per logical archive.
//
// Records are grouped into partitions, one table each, created on first insert.
// A partition's attribute columns are never declared up front: the first
// document carrying a key adds the column and fixes its logical type in the
// archive_columns registry, and later documents are coerced to that type or
// widen it to TEXT. Columns are never removed or narrowed.
//
// Inserts are duplicate-safe and never update an existing row. The Store holds
// an exclusive file lock for writers so a second process cannot write the same
// archive; read-only stores skip the lock and only answer existence queries.
//
// Tables and indexes owned by the archive itself use the archive_ prefix, which
// partition names can never take.
package archive
