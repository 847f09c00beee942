// SPDX-License-Identifier: Apache-2.0
package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// pump drives an Encoder/Decoder pair to completion exactly as the
// synchronization driver would: the decoder's Request steps pull bytes
// that the encoder's Data/NextFile steps have produced, and the encoder is
// only ever run far enough ahead to satisfy the next request.
func pump(t *testing.T, enc *Encoder, dec *Decoder) {
	t.Helper()

	encFinished := false
	for {
		dres, err := dec.Step()
		require.NoError(t, err)

		switch dres {
		case Finished:
			return
		case Request:
			for {
				if encFinished {
					require.NoError(t, dec.PutEOF())
					break
				}
				eres, err := enc.Step()
				require.NoError(t, err)
				if eres == Finished {
					encFinished = true
					require.NoError(t, dec.PutEOF())
					break
				}
				if data := enc.GetData(); len(data) > 0 {
					require.NoError(t, dec.PutData(data))
					break
				}
			}
		}
	}
}

func openDir(t *testing.T, path string) *os.File {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	return fh
}

func TestRoundTripDirectoryTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested content"), 0o644))
	require.NoError(t, os.Symlink("hello.txt", filepath.Join(src, "link")))

	dst := t.TempDir()

	enc := NewEncoder()
	require.NoError(t, enc.SetBaseFD(openDir(t, src)))

	dec := NewDecoder()
	require.NoError(t, dec.SetBaseFD(openDir(t, dst)))

	pump(t, enc, dec)

	got, err := os.ReadFile(filepath.Join(dst, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "sub", "nested.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested content", string(got))

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	require.Equal(t, "hello.txt", target)
}

func TestRoundTripRegularFile(t *testing.T) {
	src := t.TempDir()
	srcFile := filepath.Join(src, "payload.bin")
	require.NoError(t, os.WriteFile(srcFile, []byte("some binary-ish payload"), 0o644))

	dst := t.TempDir()
	dstFile := filepath.Join(dst, "out.bin")
	dstFh, err := os.Create(dstFile)
	require.NoError(t, err)

	srcFh, err := os.Open(srcFile)
	require.NoError(t, err)

	enc := NewEncoder()
	require.NoError(t, enc.SetBaseFD(srcFh))

	dec := NewDecoder()
	require.NoError(t, dec.SetBaseFD(dstFh))

	pump(t, enc, dec)

	got, err := os.ReadFile(dstFile)
	require.NoError(t, err)
	require.Equal(t, "some binary-ish payload", string(got))
}

func TestEncoderRejectsDoubleSetBaseFD(t *testing.T) {
	src := t.TempDir()
	enc := NewEncoder()
	require.NoError(t, enc.SetBaseFD(openDir(t, src)))
	require.Error(t, enc.SetBaseFD(openDir(t, src)))
}

func TestDecoderRejectsPutDataWithoutRequest(t *testing.T) {
	dec := NewDecoder()
	require.Error(t, dec.PutData([]byte("x")))
}
