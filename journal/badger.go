package journal

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/harbor-io/bulkq"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/set"
	"github.com/segmentio/ksuid"
)

type BadgerConfig struct {
	// StorageDir is the directory where badger will store its data
	StorageDir string
	// Name distinguishes journals sharing a StorageDir; defaults to "bulkq"
	Name string
	// Log is used to log warnings and errors
	Log *slog.Logger
}

// Badger is a badger backed Journal. The database is opened lazily on first
// use. Keys are monotonic ksuids so replay preserves enqueue order.
type Badger struct {
	mu   sync.Mutex
	conf BadgerConfig
	uid  ksuid.KSUID
	db   *badger.DB
}

var _ bulkq.Journal = &Badger{}

func NewBadger(conf BadgerConfig) *Badger {
	set.Default(&conf.Log, slog.Default())
	if conf.Name == "" {
		conf.Name = "bulkq"
	}
	return &Badger{
		uid:  ksuid.New(),
		conf: conf,
	}
}

func (b *Badger) Append(_ context.Context, rows []bulkq.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		for _, row := range rows {
			b.uid = b.uid.Next()
			buf, err := encodeRow(row)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(b.uid.String()), buf); err != nil {
				return errors.Errorf("during Set(): %w", err)
			}
		}
		return nil
	})
}

func (b *Badger) Remove(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.getDB()
	if err != nil {
		return err
	}
	drop := idSet(ids)

	return db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				row, err := decodeRow(v)
				if err != nil {
					return err
				}
				if _, ok := drop[row.InsertID]; ok {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return errors.Errorf("during Delete(): %w", err)
			}
		}
		return nil
	})
}

func (b *Badger) Replay(_ context.Context) ([]bulkq.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.getDB()
	if err != nil {
		return nil, err
	}

	var rows []bulkq.Row
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				row, err := decodeRow(v)
				if err != nil {
					return err
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *Badger) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Badger) getDB() (*badger.DB, error) {
	if b.db != nil {
		return b.db, nil
	}

	dir := filepath.Join(b.conf.StorageDir, b.conf.Name+"-journal")

	opts := badger.DefaultOptions(dir)
	opts.Logger = newBadgerLogger(b.conf.Log)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Errorf("while opening db '%s': %w", dir, err)
	}
	b.db = db
	return db, nil
}

type badgerLogger struct {
	log *slog.Logger
}

func newBadgerLogger(log *slog.Logger) *badgerLogger {
	return &badgerLogger{log: log.With("code.namespace", "badger-lib")}
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(strings.Trim(f, "\n"), v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(strings.Trim(f, "\n"), v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(strings.Trim(f, "\n"), v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(strings.Trim(f, "\n"), v...))
}
