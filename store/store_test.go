// SPDX-License-Identifier: Apache-2.0
package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyphar/casync-go/objectid"
)

type memStore struct {
	objs map[objectid.ID][]byte
}

func newMemStore() *memStore {
	return &memStore{objs: map[objectid.ID][]byte{}}
}

func (m *memStore) Get(_ context.Context, id objectid.ID) ([]byte, error) {
	data, ok := m.objs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *memStore) Put(_ context.Context, id objectid.ID, data []byte) error {
	m.objs[id] = data
	return nil
}

func idFor(t *testing.T, data string) objectid.ID {
	t.Helper()
	d := objectid.NewDigester()
	id, err := d.Sum([]byte(data))
	require.NoError(t, err)
	return id
}

func TestLocalStorePutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	defer s.Close()

	id := idFor(t, "hello world")
	require.NoError(t, s.Put(context.Background(), id, []byte("hello world")))

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestLocalStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	defer s.Close()

	id := idFor(t, "absent")
	_, err = s.Get(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorePutIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	defer s.Close()

	id := idFor(t, "idempotent")
	require.NoError(t, s.Put(context.Background(), id, []byte("idempotent")))
	require.NoError(t, s.Put(context.Background(), id, []byte("idempotent")))

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []byte("idempotent"), got)
}

func TestFanInPrefersWritable(t *testing.T) {
	id := idFor(t, "conflict")

	writable := newMemStore()
	seed := newMemStore()
	require.NoError(t, writable.Put(context.Background(), id, []byte("from-writable")))
	require.NoError(t, seed.Put(context.Background(), id, []byte("from-seed")))

	fi := NewFanIn()
	require.NoError(t, fi.SetWritable(writable))
	fi.AddSeed(seed)

	got, err := fi.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []byte("from-writable"), got)
}

func TestFanInFallsBackToSeedsInOrder(t *testing.T) {
	id := idFor(t, "seed-only")

	seed1 := newMemStore()
	seed2 := newMemStore()
	require.NoError(t, seed2.Put(context.Background(), id, []byte("from-seed2")))

	fi := NewFanIn()
	fi.AddSeed(seed1)
	fi.AddSeed(seed2)

	got, err := fi.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []byte("from-seed2"), got)
}

func TestFanInNotFoundWhenExhausted(t *testing.T) {
	fi := NewFanIn()
	fi.AddSeed(newMemStore())

	_, err := fi.Get(context.Background(), idFor(t, "missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFanInPutRequiresWritable(t *testing.T) {
	fi := NewFanIn()
	fi.AddSeed(newMemStore())

	err := fi.Put(context.Background(), idFor(t, "x"), []byte("x"))
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestFanInSetWritableBusy(t *testing.T) {
	fi := NewFanIn()
	require.NoError(t, fi.SetWritable(newMemStore()))
	require.Error(t, fi.SetWritable(newMemStore()))
}
