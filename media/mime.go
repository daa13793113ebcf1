// Package media implements MediaUploader and ImageResolver: MIME
// sniffing, DataURL conversion, image-size decoding, and the image
// extraction/classification rules of spec.md §4.5–4.6.
package media

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SupportedExts are the image extensions the platform and this
// connector recognize, per spec.md §3 (MediaSource).
var SupportedExts = []string{"jpg", "jpeg", "png", "gif", "webp", "bmp"}

var extToMIME = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

// MIMEForExt returns the MIME type for a (case-insensitive, leading-dot
// optional) file extension, defaulting to application/octet-stream.
func MIMEForExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if m, ok := extToMIME[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// IsSupportedExt reports whether ext (with or without leading dot) is a
// recognized image extension.
func IsSupportedExt(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range SupportedExts {
		if e == ext {
			return true
		}
	}
	return false
}

// DataURL builds a data: URL from raw bytes and a MIME type.
func DataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// ParseDataURL splits a data: URL into its MIME type and decoded bytes.
func ParseDataURL(s string) (mime string, data []byte, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(s, prefix) {
		return "", nil, fmt.Errorf("media: not a data URL")
	}
	rest := s[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("media: malformed data URL")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	mime = strings.TrimSuffix(meta, ";base64")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("media: decode data URL payload: %w", err)
	}
	return mime, decoded, nil
}

// LocalPathToDataURL reads an absolute local file and rewrites it to a
// DataURL, per spec.md §3 (MediaSource.LocalPath).
func LocalPathToDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("media: read local path %q: %w", path, err)
	}
	mime := MIMEForExt(filepath.Ext(path))
	return DataURL(mime, data), nil
}
