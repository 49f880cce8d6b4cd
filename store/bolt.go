package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	dbFileName    = "identity.db"
	recordsBucket = "records"
)

// Bolt is a Store backed by a single bbolt database inside the generation's
// bucket directory.
type Bolt struct {
	db  *bbolt.DB
	dir string
}

var _ Store = (*Bolt)(nil)

// OpenBolt creates the bucket directory if needed and opens (or creates) its
// database. The open timeout guards against a leaked file lock from an
// unclean shutdown blocking startup forever.
func OpenBolt(dir string) (*Bolt, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: bucket directory is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create bucket dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, dbFileName), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create records bucket: %w", err)
	}

	return &Bolt{db: db, dir: dir}, nil
}

func (b *Bolt) Dir() string { return b.dir }

func (b *Bolt) Get(key string) ([]byte, bool, error) {
	if b == nil || b.db == nil {
		return nil, false, ErrClosed
	}
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(recordsBucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func (b *Bolt) PutPair(idKey, emailKey string, value []byte) error {
	if b == nil || b.db == nil {
		return ErrClosed
	}
	if idKey == "" || emailKey == "" {
		return fmt.Errorf("store: both cache keys are required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(recordsBucket))
		if err := bkt.Put([]byte(idKey), value); err != nil {
			return err
		}
		return bkt.Put([]byte(emailKey), value)
	})
}

func (b *Bolt) Scan(fn func(key string, value []byte) error) error {
	if b == nil || b.db == nil {
		return ErrClosed
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

func (b *Bolt) Remove(keys ...string) error {
	if b == nil || b.db == nil {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(recordsBucket))
		for _, k := range keys {
			if err := bkt.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
