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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/opbench/services/bench/timer"
)

// keyPrefix is shared by every record key: record:{run_id}:{seq:016d}.
const keyPrefix = "record:"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps the database in memory. Used by tests.
	InMemory bool

	// SyncWrites makes every commit durable before Append returns.
	SyncWrites bool

	// RunID scopes appends and reads to one run. Writers generate one
	// when empty; readers return every run.
	RunID string

	// Logger receives badger's internal logging. Nil silences it.
	Logger *slog.Logger
}

// BadgerStore keeps one entry per key in a badger database. It implements
// both Writer and Reader.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db       *badger.DB
	runID    string
	readAll  bool
	logger   *slog.Logger
	mu       sync.Mutex
	seq      uint64
	closed   bool
	closeErr error
}

// OpenBadger opens (or creates) the database and positions the writer
// after the last stored sequence of its run.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{
		db:      db,
		runID:   cfg.RunID,
		readAll: cfg.RunID == "",
		logger:  logger.With(slog.String("component", "recordstore"), slog.String("store", "badger")),
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	if err := s.initSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// RunID returns the run new records are stored under.
func (s *BadgerStore) RunID() string {
	return s.runID
}

func (s *BadgerStore) initSeq() error {
	prefix := []byte(runPrefix(s.runID))
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the last possible key of the run.
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seekKey)
		if it.ValidForPrefix(prefix) {
			_, seq, err := parseKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			s.seq = seq
		}
		return nil
	})
}

// Append stores m under the next sequence number of the run.
func (s *BadgerStore) Append(ctx context.Context, m *timer.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if m.RunID == "" {
		m.RunID = s.runID
	}
	entry, err := encodeEntry(m)
	if err != nil {
		return err
	}

	seq := s.seq + 1
	key := recordKey(s.runID, seq)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), entry)
	}); err != nil {
		return fmt.Errorf("store record %d: %w", seq, err)
	}
	s.seq = seq

	s.logger.Debug("record appended",
		slog.String("run_id", s.runID),
		slog.Uint64("seq", seq),
		slog.String("label", m.Label))
	return nil
}

// ReadAll returns the stored records in key order: by run, then by sequence.
// Sequence numbers must start at 1 and be contiguous within each run.
func (s *BadgerStore) ReadAll(ctx context.Context) ([]*timer.Measurement, error) {
	prefix := keyPrefix
	if !s.readAll {
		prefix = runPrefix(s.runID)
	}

	var out []*timer.Measurement
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var (
			curRun  string
			lastSeq uint64
		)
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			run, seq, err := parseKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			if run != curRun {
				curRun, lastSeq = run, 0
			}
			if seq != lastSeq+1 {
				return fmt.Errorf("%w: run %s expected seq %d, got %d", ErrSequenceGap, run, lastSeq+1, seq)
			}
			lastSeq = seq

			var m *timer.Measurement
			if err := item.Value(func(val []byte) error {
				var derr error
				m, derr = decodeEntry(val)
				return derr
			}); err != nil {
				return fmt.Errorf("run %s seq %d: %w", run, seq, err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Runs returns the distinct run IDs in the database, sorted.
func (s *BadgerStore) Runs(ctx context.Context) ([]string, error) {
	var runs []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(keyPrefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			run, _, err := parseKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			if len(runs) == 0 || runs[len(runs)-1] != run {
				runs = append(runs, run)
			}
		}
		return nil
	})
	return runs, err
}

// Close closes the database. It is safe to call more than once.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = s.db.Close()
	return s.closeErr
}

// ---- Keys ----

func runPrefix(runID string) string {
	return keyPrefix + runID + ":"
}

func recordKey(runID string, seq uint64) string {
	return fmt.Sprintf("%s%s:%016d", keyPrefix, runID, seq)
}

func parseKey(key []byte) (string, uint64, error) {
	rest := strings.TrimPrefix(string(key), keyPrefix)
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: malformed key %q", ErrCorruptRecord, key)
	}
	var seq uint64
	if _, err := fmt.Sscanf(rest[i+1:], "%016d", &seq); err != nil {
		return "", 0, fmt.Errorf("%w: malformed key %q: %v", ErrCorruptRecord, key, err)
	}
	return rest[:i], seq, nil
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
