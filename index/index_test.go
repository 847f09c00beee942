// SPDX-License-Identifier: Apache-2.0
package index

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyphar/casync-go/objectid"
)

func mustID(t *testing.T, seed byte) objectid.ID {
	t.Helper()
	raw := bytes.Repeat([]byte{seed}, objectid.Size)
	id, err := objectid.FromBytes(raw)
	require.NoError(t, err)
	return id
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	idA := mustID(t, 0xAA)
	idB := mustID(t, 0xBB)
	require.NoError(t, w.WriteObject(idA, 1024))
	require.NoError(t, w.WriteObject(idB, 2048))

	digest := mustID(t, 0xFF)
	require.NoError(t, w.SetDigest(digest))
	require.NoError(t, w.WriteEOF())
	require.NoError(t, w.Close())

	r := NewReader(&buf)

	gotID, gotSize, err := r.ReadObject()
	require.NoError(t, err)
	require.Equal(t, idA, gotID)
	require.EqualValues(t, 1024, gotSize)

	gotID, gotSize, err = r.ReadObject()
	require.NoError(t, err)
	require.Equal(t, idB, gotID)
	require.EqualValues(t, 2048, gotSize)

	_, _, err = r.ReadObject()
	require.ErrorIs(t, err, io.EOF)

	gotDigest, err := r.Digest()
	require.NoError(t, err)
	require.Equal(t, digest, gotDigest)
}

func TestDigestUnavailableBeforeEOF(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetDigest(mustID(t, 0x01)))
	require.NoError(t, w.WriteEOF())

	r := NewReader(&buf)
	_, err := r.Digest()
	require.Error(t, err)
}

func TestEmptyIndexIsImmediateEOF(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetDigest(mustID(t, 0x42)))
	require.NoError(t, w.WriteEOF())

	r := NewReader(&buf)
	_, _, err := r.ReadObject()
	require.ErrorIs(t, err, io.EOF)
}
