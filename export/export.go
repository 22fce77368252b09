// Package export - Download names, ZIP archives and host document insertion.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rembg/store"
)

const (
	// ArchiveName is the file name of the ZIP export.
	ArchiveName = "background-blasted.zip"
	// ProcessedSuffix is appended to the base name of processed files.
	ProcessedSuffix = "-bg-blasted.png"
)

// ErrNothingToExport is returned when no record has a processed file.
var ErrNothingToExport = errors.New("no processed images to export")

// FileName returns the processed file name for an upload: the name up to its first dot followed
// by ProcessedSuffix.
func FileName(name string) string {
	base := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		base = name[:i]
	}
	if base == "" {
		base = "image"
	}
	return base + ProcessedSuffix
}

// DownloadName returns the attachment name used when a single processed image is downloaded.
func DownloadName(id int64) string {
	return fmt.Sprintf("processed-%d.png", id)
}

// WriteZip writes the processed file of every record to w as a ZIP archive.
//
// Arguments:
//   - w: The destination writer.
//   - records: The records to export. Records without a processed file are skipped.
//
// Returns:
//   - int: The number of files written.
//   - error: ErrNothingToExport when no record has a processed file.
func WriteZip(w io.Writer, records []store.Record) (int, error) {
	var processed []store.Record
	for _, r := range records {
		if r.Processed != nil {
			processed = append(processed, r)
		}
	}
	if len(processed) == 0 {
		return 0, ErrNothingToExport
	}

	zw := zip.NewWriter(w)
	used := make(map[string]int, len(processed))

	for _, r := range processed {
		name := uniqueName(used, r.Processed.Name, r.ID)
		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: r.UpdatedAt,
		}
		if header.Modified.IsZero() {
			header.Modified = time.Now()
		}

		fw, err := zw.CreateHeader(header)
		if err != nil {
			return 0, errors.Wrapf(err, "zip entry %s", name)
		}
		if _, err := fw.Write(r.Processed.Data); err != nil {
			return 0, errors.Wrapf(err, "zip entry %s", name)
		}
	}

	if err := zw.Close(); err != nil {
		return 0, errors.Wrap(err, "finish zip")
	}
	return len(processed), nil
}

// uniqueName suffixes repeated names with the record id.
func uniqueName(used map[string]int, name string, id int64) string {
	if name == "" {
		name = DownloadName(id)
	}
	used[name]++
	if used[name] == 1 {
		return name
	}

	ext := ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name, ext = name[:i], name[i:]
	}
	return fmt.Sprintf("%s-%d%s", name, id, ext)
}
