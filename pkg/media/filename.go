// Package media implements the upload pipeline: multipart ingestion with
// content-hash dedup, multi-size WebP thumbnail derivation, a cancellable
// single-worker video transcode queue, content-negotiated serving and the
// periodic orphan sweep.
package media

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MintFilename returns a server filename "<unixMillis>-<base36>.<ext>" for
// an upload. The original name never reaches disk; only its extension
// survives, lowercased.
func MintFilename(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	suffix := strconv.FormatInt(rand.Int63n(36*36*36*36*36*36), 36)
	for len(suffix) < 6 {
		suffix = "0" + suffix
	}
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), suffix, ext)
}

// Basename strips the extension from a server filename; thumbnails and
// transcode outputs are keyed on it.
func Basename(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
