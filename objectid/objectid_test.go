// SPDX-License-Identifier: Apache-2.0
package objectid

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigesterDeterministic(t *testing.T) {
	d := NewDigester()

	id1, err := d.Sum([]byte("hello"))
	require.NoError(t, err)

	id2, err := d.Sum([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, id1, id2, "equal bytes must produce equal ids")

	sum := sha256.Sum256([]byte("hello"))
	want, err := FromBytes(sum[:])
	require.NoError(t, err)
	require.Equal(t, want, id1)
}

func TestDigesterResetBetweenChunks(t *testing.T) {
	d := NewDigester()

	idHello, err := d.Sum([]byte("hello"))
	require.NoError(t, err)

	idWorld, err := d.Sum([]byte("world"))
	require.NoError(t, err)

	require.NotEqual(t, idHello, idWorld)

	// Feeding "hello" again must reproduce the first id: the digester must
	// not carry state across calls.
	idHelloAgain, err := d.Sum([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, idHello, idHelloAgain)
}

func TestArchiveDigestNeverReset(t *testing.T) {
	a := NewArchiveDigest()
	require.NoError(t, a.Write([]byte("foo")))
	require.NoError(t, a.Write([]byte("bar")))

	got, err := a.Sum()
	require.NoError(t, err)

	want, err := FromBytes(sha256Sum("foobar"))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func TestParseRoundTrip(t *testing.T) {
	sum := sha256.Sum256([]byte("round-trip"))
	id, err := FromBytes(sum[:])
	require.NoError(t, err)

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	raw, err := parsed.Bytes()
	require.NoError(t, err)
	require.Equal(t, sum[:], raw)
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	_, err := Parse("sha1:da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.Error(t, err)
}
