// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recordstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/opbench/services/bench/timer"
)

const (
	// lenSize is the length of the frame length prefix.
	lenSize = 4

	// maxEntrySize bounds a single entry; larger lengths mean a damaged header.
	maxEntrySize = 64 << 20
)

// FileWriter appends framed measurements to a single file handle held for
// the whole run.
//
// Thread Safety: Safe for concurrent use; appends are serialized.
type FileWriter struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	count  int
	logger *slog.Logger
}

// CreateFile creates (or truncates) the record file at path, creating
// parent directories as needed.
func CreateFile(path string, opts ...Option) (*FileWriter, error) {
	o := buildOptions(opts)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create record dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("create record file: %w", err)
	}
	return &FileWriter{
		f:      f,
		path:   path,
		logger: o.logger.With(slog.String("component", "recordstore"), slog.String("path", path)),
	}, nil
}

// Append writes one frame and syncs the file before returning.
func (w *FileWriter) Append(ctx context.Context, m *timer.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := encodeEntry(m)
	if err != nil {
		return err
	}
	frame := make([]byte, lenSize+len(entry))
	binary.BigEndian.PutUint32(frame[:lenSize], uint32(len(entry)))
	copy(frame[lenSize:], entry)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return ErrClosed
	}
	if _, err := w.f.Write(frame); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync record file: %w", err)
	}
	w.count++
	w.logger.Debug("record appended",
		slog.Int("seq", w.count),
		slog.String("label", m.Label),
		slog.String("description", m.Description),
		slog.Int("bytes", len(frame)))
	return nil
}

// Count returns the number of records appended so far.
func (w *FileWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Path returns the record file path.
func (w *FileWriter) Path() string {
	return w.path
}

// Close closes the file. It is safe to call more than once.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return fmt.Errorf("close record file: %w", err)
	}
	return nil
}

// FileReader decodes a record file from the start.
type FileReader struct {
	path   string
	logger *slog.Logger
}

// NewFileReader returns a reader for the record file at path.
func NewFileReader(path string, opts ...Option) *FileReader {
	o := buildOptions(opts)
	return &FileReader{
		path:   path,
		logger: o.logger.With(slog.String("component", "recordstore"), slog.String("path", path)),
	}
}

// ReadFile reads every record in the file at path.
func ReadFile(path string) ([]*timer.Measurement, error) {
	return NewFileReader(path).ReadAll(context.Background())
}

// ReadAll decodes frames until end of file.
//
// Description:
//
//	A frame cut short at the end of the file, as left by a crash during an
//	append, ends the stream and is logged. A checksum or payload failure in
//	any complete frame is ErrCorruptRecord. Reads never modify the file, so
//	repeated calls return the same sequence.
func (r *FileReader) ReadAll(ctx context.Context) ([]*timer.Measurement, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var out []*timer.Measurement
	header := make([]byte, lenSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				r.truncated(len(out))
				return out, nil
			}
			return nil, fmt.Errorf("read record header: %w", err)
		}

		size := binary.BigEndian.Uint32(header)
		if size <= crcSize || size > maxEntrySize {
			return nil, fmt.Errorf("%w: frame %d has length %d", ErrCorruptRecord, len(out), size)
		}
		entry := make([]byte, size)
		if _, err := io.ReadFull(br, entry); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				r.truncated(len(out))
				return out, nil
			}
			return nil, fmt.Errorf("read record: %w", err)
		}

		m, err := decodeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", len(out), err)
		}
		out = append(out, m)
	}
}

func (r *FileReader) truncated(complete int) {
	r.logger.Warn("record file ends with a truncated frame; ignoring it",
		slog.Int("complete_records", complete))
}
