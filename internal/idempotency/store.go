// Package idempotency stores the first response given to an Idempotency-Key so
// client retries of POST /payment replay it instead of reprocessing.
package idempotency

import (
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "payment_responses"

// ErrKeyReused is returned when a key comes back with a different request body.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Record is one stored response.
type Record struct {
	Key         string    `json:"key"`
	RequestHash string    `json:"request_hash"`
	StatusCode  int       `json:"status_code"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (or creates) the BoltDB file at path. Records older than ttl are
// treated as absent and removed by Purge.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Key scopes a client key to a clinic so tenants never see each other's responses.
func Key(clinicID, clientKey string) string { return clinicID + "/" + clientKey }

// Lookup returns the live record for key, nil if none. When requestHash differs
// from the stored one it returns ErrKeyReused.
func (s *Store) Lookup(key, requestHash string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v == nil {
			return nil
		}
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if s.expired(r) {
			return nil
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.RequestHash != requestHash {
		return rec, ErrKeyReused
	}
	return rec, nil
}

// Save stores rec only if no live record exists for its key. It returns the
// record that is stored after the call and whether this call wrote it.
func (s *Store) Save(rec Record) (*Record, bool, error) {
	var result Record
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if existing := b.Get([]byte(rec.Key)); existing != nil {
			if err := json.Unmarshal(existing, &result); err != nil {
				return err
			}
			if !s.expired(result) {
				return nil
			}
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.now().UTC()
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(rec.Key), data); err != nil {
			return err
		}
		result = rec
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// Purge deletes expired records and returns how many were removed.
func (s *Store) Purge() (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil || s.expired(r) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}

func (s *Store) expired(r Record) bool {
	return s.ttl > 0 && s.now().Sub(r.CreatedAt) >= s.ttl
}
