// Package warcwriter archives fetched pages as WARC records, the
// archival collaborator of the crawl worker loop. Records are
// gzip-compressed (record framing is hand-rolled over compress/gzip;
// see DESIGN.md) and segments rotate once they reach a configured size
// cap.
package warcwriter

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is a single archived response.
type Record struct {
	TargetURI   string
	Timestamp   time.Time
	StatusCode  int
	Headers     map[string][]string
	Body        []byte
	ContentType string
}

// Location identifies where a Record landed, so the archival index
// (internal/storage) can point a crawled URL at its WARC offset.
type Location struct {
	SegmentPath string
	Offset      int64
	Length      int64
}

// Writer appends WARC records to rotating gzip segments under dir.
type Writer struct {
	dir         string
	maxSegBytes int64

	mu       sync.Mutex
	seg      *os.File
	gz       *gzip.Writer
	segIndex int
	segBytes int64
}

// Open creates (or resumes into a fresh segment of) a Writer rooted at
// dir, rotating to a new segment once the current one reaches
// maxSegBytes.
func Open(dir string, maxSegBytes int64) (*Writer, error) {
	if maxSegBytes <= 0 {
		maxSegBytes = 1 << 30 // 1 GiB default
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	w := &Writer{dir: dir, maxSegBytes: maxSegBytes}
	existing, err := filepath.Glob(filepath.Join(dir, "segment-*.warc.gz"))
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	for _, p := range existing {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(p), "segment-%05d.warc.gz", &n); err == nil && n > w.segIndex {
			w.segIndex = n
		}
	}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) rotate() error {
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}
	if w.seg != nil {
		if err := w.seg.Close(); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}

	w.segIndex++
	path := filepath.Join(w.dir, fmt.Sprintf("segment-%05d.warc.gz", w.segIndex))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	w.seg = f
	w.gz = gzip.NewWriter(f)
	w.segBytes = 0
	return nil
}

// Write appends rec as a WARC/1.0 "response" record and returns its
// Location within the current segment.
func (w *Writer) Write(rec Record) (Location, error) {
	data := encode(rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segBytes > 0 && w.segBytes+int64(len(data)) > w.maxSegBytes {
		if err := w.rotate(); err != nil {
			return Location{}, err
		}
	}

	offset := w.segBytes
	if _, err := w.gz.Write(data); err != nil {
		return Location{}, fmt.Errorf("context: %w", err)
	}
	if err := w.gz.Flush(); err != nil {
		return Location{}, fmt.Errorf("context: %w", err)
	}
	w.segBytes += int64(len(data))

	return Location{
		SegmentPath: w.seg.Name(),
		Offset:      offset,
		Length:      int64(len(data)),
	}, nil
}

func encode(rec Record) []byte {
	var body bytes.Buffer
	header := textproto.MIMEHeader{}
	header.Set("WARC-Type", "response")
	header.Set("WARC-Record-ID", fmt.Sprintf("<urn:uuid:%s>", uuid.NewString()))
	header.Set("WARC-Target-URI", rec.TargetURI)
	header.Set("WARC-Date", rec.Timestamp.UTC().Format(time.RFC3339Nano))
	header.Set("Content-Type", "application/http; msgtype=response")
	header.Set("Content-Length", fmt.Sprintf("%d", len(rec.Body)))

	body.WriteString(fmt.Sprintf("HTTP/1.1 %d\r\n", rec.StatusCode))
	for k, vals := range rec.Headers {
		for _, v := range vals {
			body.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
		}
	}
	body.WriteString("\r\n")
	body.Write(rec.Body)

	var out bytes.Buffer
	out.WriteString("WARC/1.0\r\n")
	for k := range header {
		out.WriteString(fmt.Sprintf("%s: %s\r\n", k, header.Get(k)))
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	out.WriteString("\r\n\r\n")
	return out.Bytes()
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return w.seg.Close()
}
