package revocation

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	dbFilePermission = 0600
	defaultDBTimeout = 10 * time.Second
)

var (
	secretStoreBucket = []byte("revealed-secrets")

	// ErrNoSecretStore is returned if there is no store for a channel.
	ErrNoSecretStore = errors.New("no secret store for channel")
)

// BoltStore persists the revealed-secret stores of many channels in a bbolt
// database, keyed by an opaque channel identifier.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens or creates the database at the given path.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	if timeout == 0 {
		timeout = defaultDBTimeout
	}

	db, err := bbolt.Open(path, dbFilePermission, &bbolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open secret db %s: %w", path,
			err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(secretStoreBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Put writes the store of a channel, replacing any previous version.
func (b *BoltStore) Put(chanID []byte, store *SecretStore) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putStore(tx.Bucket(secretStoreBucket), chanID, store)
	})
}

func putStore(bucket *bbolt.Bucket, chanID []byte, store *SecretStore) error {
	var buf bytes.Buffer
	if err := store.Encode(&buf); err != nil {
		return err
	}

	return bucket.Put(chanID, buf.Bytes())
}

// Fetch reads the store of a channel.
func (b *BoltStore) Fetch(chanID []byte) (*SecretStore, error) {
	var store *SecretStore
	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(secretStoreBucket).Get(chanID)
		if value == nil {
			return ErrNoSecretStore
		}

		var err error
		store, err = DecodeSecretStore(value)
		return err
	})
	if err != nil {
		return nil, err
	}

	return store, nil
}

// AddSecret adds a revealed secret to the store of a channel, creating the
// store on first use. The read and the write happen in one transaction.
func (b *BoltStore) AddSecret(chanID []byte, state CommitmentState,
	secret [32]byte) error {

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(secretStoreBucket)

		store := NewSecretStore()
		if value := bucket.Get(chanID); value != nil {
			var err error
			store, err = DecodeSecretStore(value)
			if err != nil {
				return err
			}
		}

		if err := store.AddSecret(state, secret); err != nil {
			return err
		}

		return putStore(bucket, chanID, store)
	})
}
