package journal

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/harbor-io/bulkq"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/segmentio/ksuid"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("journal")

type BoltConfig struct {
	// StorageDir is the directory where bolt will store its data
	StorageDir string
	// Name distinguishes journals sharing a StorageDir; defaults to "bulkq"
	Name string
}

// Bolt is a bbolt backed Journal. The data file is opened lazily on first
// use. Keys are monotonic ksuids so replay preserves enqueue order.
type Bolt struct {
	mu   sync.Mutex
	conf BoltConfig
	uid  ksuid.KSUID
	db   *bolt.DB
}

var _ bulkq.Journal = &Bolt{}

func NewBolt(conf BoltConfig) *Bolt {
	if conf.Name == "" {
		conf.Name = "bulkq"
	}
	return &Bolt{
		uid:  ksuid.New(),
		conf: conf,
	}
}

func (b *Bolt) Append(_ context.Context, rows []bulkq.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errors.New("bucket does not exist in data file")
		}
		for _, row := range rows {
			b.uid = b.uid.Next()
			buf, err := encodeRow(row)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(b.uid.String()), buf); err != nil {
				return errors.Errorf("during Put(): %w", err)
			}
		}
		return nil
	})
}

func (b *Bolt) Remove(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.getDB()
	if err != nil {
		return err
	}
	drop := idSet(ids)

	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errors.New("bucket does not exist in data file")
		}

		c := bucket.Cursor()
		var keys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			row, err := decodeRow(v)
			if err != nil {
				return err
			}
			if _, ok := drop[row.InsertID]; ok {
				keys = append(keys, append([]byte(nil), k...))
			}
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return errors.Errorf("during Delete(): %w", err)
			}
		}
		return nil
	})
}

func (b *Bolt) Replay(_ context.Context) ([]bulkq.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.getDB()
	if err != nil {
		return nil, err
	}

	var rows []bulkq.Row
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errors.New("bucket does not exist in data file")
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			row, err := decodeRow(v)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *Bolt) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Bolt) getDB() (*bolt.DB, error) {
	if b.db != nil {
		return b.db, nil
	}

	file := filepath.Join(b.conf.StorageDir, b.conf.Name+"-journal.db")

	opts := &bolt.Options{
		FreelistType: bolt.FreelistArrayType,
		Timeout:      clock.Second,
		NoGrowSync:   false,
	}

	db, err := bolt.Open(file, 0600, opts)
	if err != nil {
		return nil, errors.Errorf("while opening db '%s': %w", file, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(bucketName); bucket == nil {
			_, err := tx.CreateBucket(bucketName)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("while creating bucket: %w", err)
	}

	b.db = db
	return db, nil
}
