// SPDX-License-Identifier: Apache-2.0
package chunker

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSizes(t *testing.T) {
	_, err := New(0, 64, 128)
	require.Error(t, err)

	_, err = New(64, 64, 128)
	require.Error(t, err)

	_, err = New(16, 200, 256)
	require.Error(t, err, "avg must be a power of two")
}

func TestScanDeterministicAcrossSplits(t *testing.T) {
	data := make([]byte, 512*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	cutsWhole := scanAll(t, data)
	cutsSplit := scanAllChunked(t, data, 4096)

	require.Equal(t, cutsWhole, cutsSplit, "identical byte streams must produce identical cut sequences regardless of call boundaries")
}

// scanAll feeds the whole buffer to a single Scan call (where possible) and
// records every returned cut offset (absolute position in data).
func scanAll(t *testing.T, data []byte) []int {
	t.Helper()
	c, err := New(1024, 4096, 16384)
	require.NoError(t, err)

	var cuts []int
	abs := 0
	remaining := data
	for len(remaining) > 0 {
		k, ok := c.Scan(remaining)
		if !ok {
			break
		}
		abs += k
		cuts = append(cuts, abs)
		remaining = remaining[k:]
	}
	return cuts
}

// scanAllChunked feeds data to Scan in small pieces, simulating a reader
// that only delivers a handful of bytes per call.
func scanAllChunked(t *testing.T, data []byte, pieceSize int) []int {
	t.Helper()
	c, err := New(1024, 4096, 16384)
	require.NoError(t, err)

	var cuts []int
	abs := 0
	pending := 0
	for offset := 0; offset < len(data); {
		end := offset + pieceSize
		if end > len(data) {
			end = len(data)
		}
		piece := data[offset:end]
		offset = end

		for len(piece) > 0 {
			k, ok := c.Scan(piece)
			if !ok {
				pending += len(piece)
				break
			}
			abs += pending + k
			cuts = append(cuts, abs)
			pending = 0
			piece = piece[k:]
		}
	}
	return cuts
}

func TestScanRespectsMaxChunkSize(t *testing.T) {
	c, err := New(16, 64, 256)
	require.NoError(t, err)

	// All-zero input has no varying content to trigger a hash boundary
	// before the max size forces a cut.
	data := make([]byte, 1024)
	k, ok := c.Scan(data)
	require.True(t, ok)
	require.LessOrEqual(t, k, 256)
}

func TestScanRespectsMinChunkSize(t *testing.T) {
	c, err := New(4096, 8192, 65536)
	require.NoError(t, err)

	data := make([]byte, 4095)
	_, ok := c.Scan(data)
	require.False(t, ok, "no cut may be returned before min size has been consumed")
}
