// Package archive packages resized clips into a single zip bundle.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// ErrArchive is returned when a bundle cannot be written or read back.
var ErrArchive = errors.New("archive failed")

// ContentType is the media type of a Bundle.
const ContentType = "application/zip"

// Entry is one clip to be stored in the bundle under EntryName(Index).
type Entry struct {
	// Index is the zero-based position of the clip in its batch.
	Index int
	Data  []byte
}

// Bundle is a finished zip archive.
type Bundle struct {
	Data []byte
	// Entries lists the stored file names in archive order.
	Entries []string
}

// EntryName returns the file name a clip is stored under.
func EntryName(index int) string {
	return fmt.Sprintf("video_%d.mp4", index)
}

// Build writes videos into an uncompressed zip archive. videos[i] is stored
// as video_i.mp4. Payloads round-trip byte for byte.
func Build(videos [][]byte) (Bundle, error) {
	entries := make([]Entry, len(videos))
	for i, v := range videos {
		entries[i] = Entry{Index: i, Data: v}
	}
	return BuildIndexed(entries)
}

// BuildIndexed is Build for clips that keep their batch position, so a batch
// with excluded clips yields gaps such as video_0, video_2. Entries are
// stored ordered by Index; indexes must be unique and non-negative.
func BuildIndexed(entries []Entry) (Bundle, error) {
	if len(entries) == 0 {
		return Bundle{}, fmt.Errorf("%w: no entries", ErrArchive)
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(sorted))
	seen := make(map[int]struct{}, len(sorted))
	modified := time.Now()

	for _, e := range sorted {
		if e.Index < 0 {
			return Bundle{}, fmt.Errorf("%w: negative index %d", ErrArchive, e.Index)
		}
		if _, dup := seen[e.Index]; dup {
			return Bundle{}, fmt.Errorf("%w: duplicate index %d", ErrArchive, e.Index)
		}
		seen[e.Index] = struct{}{}

		name := EntryName(e.Index)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: modified,
		})
		if err != nil {
			return Bundle{}, fmt.Errorf("%w: create %s: %w", ErrArchive, name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return Bundle{}, fmt.Errorf("%w: write %s: %w", ErrArchive, name, err)
		}
		names = append(names, name)
	}

	if err := zw.Close(); err != nil {
		return Bundle{}, fmt.Errorf("%w: finalize: %w", ErrArchive, err)
	}

	return Bundle{Data: buf.Bytes(), Entries: names}, nil
}

// Extract reads every file of a zip archive into memory, keyed by name.
func Extract(data []byte) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrArchive, err)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrArchive, f.Name, err)
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrArchive, f.Name, err)
		}
		files[f.Name] = b
	}
	return files, nil
}
