package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultChunkSize is the read size used when hashing files.
const DefaultChunkSize = 64 * 1024

// SidecarSuffix is the extension gallery downloaders append to metadata files.
const SidecarSuffix = ".json"

// MediaExtensions lists the file types tried when a sidecar does not name
// its media file directly.
var MediaExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".mp4", ".webm", ".zip"}

// HashFile streams path through SHA-256 using fixed-size reads and returns the
// lowercase hex digest. A chunkSize <= 0 uses DefaultChunkSize.
func HashFile(path string, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hasher, onlyReader{f}, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashString returns the lowercase hex SHA-256 digest of value.
func HashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// onlyReader hides WriterTo so io.CopyBuffer honours the supplied buffer.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// IsSidecar reports whether path looks like a downloader metadata sidecar.
func IsSidecar(path string) bool {
	return strings.EqualFold(filepath.Ext(path), SidecarSuffix)
}

// MediaForSidecar locates the media file described by a sidecar. Both the
// "name.ext.json" and "name.json" layouts are supported. The second return
// value is false when no regular file could be found.
func MediaForSidecar(sidecarPath string) (string, bool) {
	base := strings.TrimSuffix(sidecarPath, filepath.Ext(sidecarPath))
	if filepath.Ext(base) != "" && isRegularFile(base) {
		return base, true
	}
	for _, ext := range MediaExtensions {
		for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
			if isRegularFile(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// RemoveIfExists deletes path, treating an already missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
