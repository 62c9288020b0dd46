package idempotency

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "idem.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSave_FirstWriteWins(t *testing.T) {
	s := newStore(t, time.Hour)
	key := Key("clinic-1", "abc")

	rec, created, err := s.Save(Record{Key: key, RequestHash: "h1", StatusCode: 200, Body: []byte(`{"status":"paid"}`)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, rec.CreatedAt.IsZero())

	rec, created, err = s.Save(Record{Key: key, RequestHash: "h1", StatusCode: 500, Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 200, rec.StatusCode)
	assert.JSONEq(t, `{"status":"paid"}`, string(rec.Body))
}

func TestLookup(t *testing.T) {
	s := newStore(t, time.Hour)
	key := Key("clinic-1", "abc")

	rec, err := s.Lookup(key, "h1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, _, err = s.Save(Record{Key: key, RequestHash: "h1", StatusCode: 200, Body: []byte(`{}`)})
	require.NoError(t, err)

	rec, err = s.Lookup(key, "h1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 200, rec.StatusCode)

	_, err = s.Lookup(key, "h2")
	assert.True(t, errors.Is(err, ErrKeyReused))

	rec, err = s.Lookup(Key("clinic-2", "abc"), "h1")
	require.NoError(t, err)
	assert.Nil(t, rec, "keys are scoped by clinic")
}

func TestExpiryAndPurge(t *testing.T) {
	s := newStore(t, time.Hour)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, _, err := s.Save(Record{Key: "k1", RequestHash: "h", StatusCode: 200})
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	_, _, err = s.Save(Record{Key: "k2", RequestHash: "h", StatusCode: 200})
	require.NoError(t, err)

	rec, err := s.Lookup("k1", "other")
	require.NoError(t, err)
	assert.Nil(t, rec, "expired records are ignored")

	n, err := s.Purge()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err = s.Lookup("k2", "h")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}
