package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
	"time"
)

type zipEntry struct {
	key      string
	modified time.Time
	open     func() (io.ReadCloser, error)
}

// entryName re-roots key under prefix, e.g. "parts/abc/list/part_000000.csv"
// under "parts/abc" becomes "list/part_000000.csv".
func entryName(prefix, key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

func writeZip(w io.Writer, prefix string, entries []zipEntry) error {
	zw := zip.NewWriter(w)

	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entryName(prefix, e.key),
			Method:   zip.Deflate,
			Modified: e.modified,
		})
		if err != nil {
			return fmt.Errorf("adding %s to archive: %w", e.key, err)
		}

		rc, err := e.open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", e.key, err)
		}
		_, err = io.Copy(fw, rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("copying %s into archive: %w", e.key, err)
		}
	}

	return zw.Close()
}

func normalizePrefix(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/"
}
