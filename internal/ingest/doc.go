// Package ingest feeds downloaded items into the archive.
//
// An item is a media file plus the JSON sidecar the downloader wrote next to
// it. The Ingester resolves the item's identity, derives its partition,
// normalizes the sidecar into storage-ready attributes and inserts the record
// if it is not already archived. IngestFolder does this for every sidecar in a
// tree and Watcher does it for sidecars as they are written.
package ingest
