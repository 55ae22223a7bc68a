// Package fsutil holds the filesystem-side helpers of the coordinator:
// collision-free destination naming, the .part backup protocol used across
// pauses, and filename determination from HTTP responses.
package fsutil

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
)

// uniqueNameAttempts bounds the counter suffixes tried before falling back
// to a timestamp.
const uniqueNameAttempts = 1000

// UniquePath returns the first available path in dir among "name",
// "name.(1).ext", "name.(2).ext", ... Past the attempt bound it falls back
// to a timestamp suffix.
func UniquePath(dir, filename string) string {
	base := filepath.Join(dir, filename)
	if !exists(base) {
		return base
	}

	stem, ext := splitExt(filename)

	for counter := 1; counter < uniqueNameAttempts; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s.(%d)%s", stem, counter, ext))
		if !exists(candidate) {
			return candidate
		}
	}

	ts := time.Now().Unix()

	return filepath.Join(dir, fmt.Sprintf("%s.%d%s", stem, ts, ext))
}

// splitExt splits "report.pdf" into ("report", ".pdf"). Names without a
// dot get an empty extension.
func splitExt(filename string) (stem, ext string) {
	ext = filepath.Ext(filename)

	return strings.TrimSuffix(filename, ext), ext
}

func exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// DetermineFilename derives a display filename for a download from the
// response and its URL: Content-Disposition first, then well-known query
// parameters, then the URL path. Names without an extension get one from
// the magic bytes in head, and everything unusable falls back to
// "download.bin".
func DetermineFilename(rawurl string, header http.Header, head []byte) string {
	var candidate string

	if _, name, err := httpheader.ContentDisposition(header); err == nil && name != "" {
		candidate = name
	}

	parsed, err := url.Parse(rawurl)
	if err != nil {
		parsed = &url.URL{}
	}

	if candidate == "" {
		q := parsed.Query()
		if name := q.Get("filename"); name != "" {
			candidate = name
		} else if name := q.Get("file"); name != "" {
			candidate = name
		}
	}

	if candidate == "" {
		candidate = filepath.Base(parsed.Path)
	}

	name := SanitizeFilename(candidate)

	if filepath.Ext(name) == "" && len(head) > 0 {
		if kind, _ := filetype.Match(head); kind != filetype.Unknown && kind.Extension != "" {
			name = name + "." + kind.Extension
		}
	}

	if name == "" || name == "." || name == "/" {
		name = "download.bin"
	}

	return name
}

// SanitizeFilename strips path components and characters that are unsafe
// in filenames on common filesystems.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.TrimSpace(name)

	if name == "/" || name == "." {
		return ""
	}

	replacer := strings.NewReplacer(
		"/", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)

	return replacer.Replace(name)
}
