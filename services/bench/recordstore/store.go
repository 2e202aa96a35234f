// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recordstore persists benchmark measurements as they are produced
// and reads them back for reporting.
//
// Each measurement is encoded as an entry, a 4-byte big-endian CRC32 of the
// payload followed by the gob payload. The file store writes every entry as
// a frame prefixed with its 4-byte big-endian length; the badger store keeps
// one entry per key. Every entry is encoded with its own gob encoder, so any
// entry decodes on its own.
package recordstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"strings"

	"github.com/AleutianAI/opbench/services/bench/timer"
)

var (
	// ErrCorruptRecord indicates an entry whose checksum or payload is invalid.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrSequenceGap indicates missing sequence numbers in a badger run.
	ErrSequenceGap = errors.New("record sequence gap")

	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("record store closed")

	// ErrUnknownKind indicates a store kind other than file or badger.
	ErrUnknownKind = errors.New("unknown store kind")
)

// Writer appends measurements durably. Append returns only after the
// measurement is on stable storage.
type Writer interface {
	Append(ctx context.Context, m *timer.Measurement) error
	Close() error
}

// Reader returns every stored measurement in append order.
type Reader interface {
	ReadAll(ctx context.Context) ([]*timer.Measurement, error)
}

// Kind selects a store implementation.
type Kind string

const (
	KindFile   Kind = "file"
	KindBadger Kind = "badger"
)

// ParseKind converts a flag value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFile, KindBadger:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// ---- Options ----

type options struct {
	logger *slog.Logger
	runID  string
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the store logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRunID scopes a badger store to one run. Writers stamp new keys with
// it; readers return only that run. Ignored by the file store.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ---- Factory ----

// Open creates a writer of the given kind at path. A file store truncates
// any existing file; a badger store appends to the database.
func Open(kind Kind, path string, opts ...Option) (Writer, error) {
	switch kind {
	case KindFile:
		return CreateFile(path, opts...)
	case KindBadger:
		o := buildOptions(opts)
		return OpenBadger(BadgerConfig{Path: path, SyncWrites: true, RunID: o.runID, Logger: o.logger})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// OpenReader opens a reader of the given kind at path. The returned closer
// releases the store.
func OpenReader(kind Kind, path string, opts ...Option) (Reader, func() error, error) {
	switch kind {
	case KindFile:
		return NewFileReader(path, opts...), func() error { return nil }, nil
	case KindBadger:
		o := buildOptions(opts)
		s, err := OpenBadger(BadgerConfig{Path: path, RunID: o.runID, Logger: o.logger})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ---- Entry codec ----

// crcSize is the length of the entry checksum prefix.
const crcSize = 4

// encodeEntry encodes m as [4-byte CRC32][gob].
func encodeEntry(m *timer.Measurement) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, crcSize))
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	out := buf.Bytes()
	binary.BigEndian.PutUint32(out[:crcSize], crc32.ChecksumIEEE(out[crcSize:]))
	return out, nil
}

// decodeEntry validates the checksum and decodes the payload.
func decodeEntry(data []byte) (*timer.Measurement, error) {
	if len(data) <= crcSize {
		return nil, fmt.Errorf("%w: entry too short (%d bytes)", ErrCorruptRecord, len(data))
	}
	stored := binary.BigEndian.Uint32(data[:crcSize])
	computed := crc32.ChecksumIEEE(data[crcSize:])
	if stored != computed {
		return nil, fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorruptRecord, stored, computed)
	}
	var m timer.Measurement
	if err := gob.NewDecoder(bytes.NewReader(data[crcSize:])).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: gob decode: %v", ErrCorruptRecord, err)
	}
	return &m, nil
}
