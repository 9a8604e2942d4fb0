package acme

import (
	"context"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/acme/autocert"
)

var bucket = []byte("autocert")

// BoltCache stores autocert certificates and account keys in a single bolt
// database file, so renewals survive restarts without a directory of loose
// PEM files.
type BoltCache struct {
	db *bbolt.DB
}

func OpenBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltCache{db: db}, nil
}

func (c *BoltCache) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return autocert.ErrCacheMiss
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *BoltCache) Put(ctx context.Context, key string, data []byte) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (c *BoltCache) Delete(ctx context.Context, key string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (c *BoltCache) Close() error { return c.db.Close() }

var _ autocert.Cache = (*BoltCache)(nil)
