// Package metadata turns loosely typed sidecar documents into flat,
// storage-ready records and decides which partition each record belongs to.
package metadata
