// Package history persists detection episodes in an embedded BadgerDB so
// they survive restarts and can be listed from the CLI or the HTTP API.
package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/MrWong99/hornwatch/internal/session"
)

// ErrClosed is returned by operations on a closed [Store].
var ErrClosed = errors.New("history: store closed")

// episodePrefix namespaces episode keys. Keys are
// prefix | start time (big-endian unix nanos) | episode ID, so iteration
// order is chronological.
var episodePrefix = []byte("episode/")

// Options configures a [Store].
type Options struct {
	// Dir is the directory for the database files. Required unless InMemory.
	Dir string

	// InMemory keeps everything in memory. Used by tests and dry runs.
	InMemory bool

	// Retention, when positive, expires episodes after this long.
	Retention time.Duration
}

// Store is a BadgerDB-backed episode log. It implements [session.Recorder].
// Safe for concurrent use.
type Store struct {
	db        *badger.DB
	retention time.Duration
}

var _ session.Recorder = (*Store)(nil)

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(slogLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", opts.Dir, err)
	}
	return &Store{db: db, retention: opts.Retention}, nil
}

// Record implements [session.Recorder].
func (s *Store) Record(_ context.Context, ep session.Episode) error {
	if ep.ID == "" {
		return errors.New("history: episode has no ID")
	}
	val, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("history: encode episode %s: %w", ep.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(episodeKey(ep), val)
		if s.retention > 0 {
			e = e.WithTTL(s.retention)
		}
		return txn.SetEntry(e)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("history: store episode %s: %w", ep.ID, err)
	}
	return nil
}

// Recent returns up to limit episodes, newest first. A non-positive limit
// returns everything.
func (s *Store) Recent(_ context.Context, limit int) ([]session.Episode, error) {
	var out []session.Episode
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = episodePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek lands on the last key <= the seek key.
		seek := append(bytes.Clone(episodePrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(episodePrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			ep, err := decode(it.Item())
			if err != nil {
				return err
			}
			out = append(out, ep)
		}
		return nil
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	return out, err
}

// Since returns the episodes that started at or after t, oldest first.
func (s *Store) Since(_ context.Context, t time.Time) ([]session.Episode, error) {
	var out []session.Episode
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = episodePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(timeKey(t)); it.ValidForPrefix(episodePrefix); it.Next() {
			ep, err := decode(it.Item())
			if err != nil {
				return err
			}
			out = append(out, ep)
		}
		return nil
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	return out, err
}

// Count returns the number of stored episodes.
func (s *Store) Count(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = episodePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(episodePrefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Clear deletes every stored episode.
func (s *Store) Clear(_ context.Context) error {
	return s.db.DropPrefix(episodePrefix)
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func decode(item *badger.Item) (session.Episode, error) {
	var ep session.Episode
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ep)
	})
	if err != nil {
		return ep, fmt.Errorf("history: decode %q: %w", item.Key(), err)
	}
	return ep, nil
}

func timeKey(t time.Time) []byte {
	k := make([]byte, 0, len(episodePrefix)+8)
	k = append(k, episodePrefix...)
	return binary.BigEndian.AppendUint64(k, uint64(t.UnixNano()))
}

func episodeKey(ep session.Episode) []byte {
	k := timeKey(ep.StartedAt)
	k = append(k, '/')
	return append(k, ep.ID...)
}

// slogLogger routes badger's warnings and errors to slog and drops the rest.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any)   { slog.Error("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Warningf(f string, v ...any) { slog.Warn("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Infof(string, ...any)        {}
func (slogLogger) Debugf(string, ...any)       {}
