package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"gsexport/lib/scrapers/gradescope"
	"gsexport/lib/textutil"
)

// ErrWrite wraps local archive I/O failures. Unlike fetch failures these
// are fatal to the run, the archive cannot safely be written to anymore.
var ErrWrite = errors.New("archive write failed")

// Fetcher is the slice of the gradescope client the archive writer needs.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// archiveWriter downloads file descriptors and streams each into a zip
// entry named <course>/<assignment>/<filename>. Fetches may overlap freely;
// the mutex serializes only entry creation and the body copy, since a zip
// writer accepts one entry stream at a time.
type archiveWriter struct {
	fetch Fetcher

	mu    sync.Mutex
	zw    *zip.Writer
	names map[string]int
}

func newArchiveWriter(out io.Writer, fetch Fetcher) *archiveWriter {
	return &archiveWriter{
		fetch: fetch,
		zw:    zip.NewWriter(out),
		names: map[string]int{},
	}
}

// write fetches one descriptor's body and copies it into a new archive
// entry. The body is never buffered whole; a multi-gigabyte attachment
// passes through in io.Copy-sized chunks.
func (a *archiveWriter) write(ctx context.Context, fd gradescope.FileDescriptor) (entryName string, err error) {
	body, _, err := a.fetch.Download(ctx, fd.URL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	entryName = a.entryName(fd)
	entry, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     entryName,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrWrite, entryName, err)
	}

	// distinguish local write errors (fatal) from the body reader failing
	// mid-stream (a per-item network failure)
	sink := &errTrackingWriter{w: entry}
	if _, err := io.Copy(sink, body); err != nil {
		if sink.err != nil {
			return "", fmt.Errorf("%w: write %s: %v", ErrWrite, entryName, sink.err)
		}
		return "", fmt.Errorf("stream %s: %w", fd.URL, err)
	}
	return entryName, nil
}

// writeManifest places a README.md index at the root of the archive.
func (a *archiveWriter) writeManifest(contents string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     "README.md",
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: create README.md: %v", ErrWrite, err)
	}
	if _, err := io.WriteString(entry, contents); err != nil {
		return fmt.Errorf("%w: write README.md: %v", ErrWrite, err)
	}
	return nil
}

// close finalizes the archive's central directory. Always called, even on
// cancellation, so a partial archive stays openable.
func (a *archiveWriter) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.zw.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// entryName builds the archive path for a descriptor, disambiguating
// collisions within the same (course, assignment) with a -1, -2, ...
// suffix before the extension. Callers hold the mutex.
func (a *archiveWriter) entryName(fd gradescope.FileDescriptor) string {
	dir := textutil.SanitizePathComponent(fd.Course) +
		"/" + textutil.SanitizePathComponent(fd.Assignment)
	base := textutil.SanitizePathComponent(fd.Name)

	name := dir + "/" + base
	n := a.names[name]
	a.names[name] = n + 1
	if n == 0 {
		return name
	}

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for {
		candidate := fmt.Sprintf("%s/%s-%d%s", dir, stem, n, ext)
		if a.names[candidate] == 0 {
			a.names[candidate] = 1
			return candidate
		}
		n++
	}
}

type errTrackingWriter struct {
	w   io.Writer
	err error
}

func (e *errTrackingWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
