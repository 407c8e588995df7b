// Package queuefile implements a crash-safe append-only record log,
// hand-rolled over os.File and encoding/json following the same
// file-handling style as pkg/proxy.Pool.LoadFile and
// internal/storage/jsonbackend.
//
// Each record is framed as a big-endian uint32 length prefix followed
// by that many bytes of JSON, so a reader can always tell where one
// record ends and the next begins even if the file was not closed
// cleanly.
package queuefile

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// File is an append-only log of length-prefixed JSON records.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates or opens the log at path for appending.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return &File{path: path, f: f}, nil
}

// Append encodes v as JSON and writes it as one length-prefixed record.
func (qf *File) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	qf.mu.Lock()
	defer qf.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := qf.f.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if _, err := qf.f.Write(data); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

// ReplayAll reads every complete record currently in the log and calls
// fn with its raw JSON bytes, in append order. A truncated trailing
// record (a partial write from an unclean shutdown) is silently
// dropped rather than treated as an error, matching a crash-safe log's
// contract: the last unacknowledged append may never have landed.
func ReplayAll(path string, fn func(data []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("context: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("context: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("context: %w", err)
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}

// Close releases the underlying file handle.
func (qf *File) Close() error {
	return qf.f.Close()
}

// Path returns the path this log was opened from.
func (qf *File) Path() string {
	return qf.path
}
