package position

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	// DefaultBucket is the bucket name of BoltStore.
	DefaultBucket = []byte("positions")
)

// Store persists positions between restarts.
type Store interface {
	// Load returns the saved position of jobID. ok is false if not found.
	Load(jobID string) (pos string, ok bool, err error)

	// Save saves position of jobID.
	Save(jobID, pos string) error
}

// BoltStore is a Store on a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

var (
	_ Store = (*BoltStore)(nil)
)

// OpenBoltStore opens (or creates) a bbolt file.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.WithMessagef(err, "Open position store %+q error", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(DefaultBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.WithStack(err)
	}
	return &BoltStore{db: db}, nil
}

// Load implements Store interface.
func (s *BoltStore) Load(jobID string) (pos string, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(DefaultBucket).Get([]byte(jobID))
		if v != nil {
			pos = string(v)
			ok = true
		}
		return nil
	})
	return pos, ok, errors.WithStack(err)
}

// Save implements Store interface.
func (s *BoltStore) Save(jobID, pos string) error {
	return errors.WithStack(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(DefaultBucket).Put([]byte(jobID), []byte(pos))
	}))
}

// Close closes the file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
