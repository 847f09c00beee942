// SPDX-License-Identifier: Apache-2.0
/*
 * casync-go: content-addressed archival and synchronization core
 * Copyright (C) 2016-2025 SUSE LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package index implements the index adapter collaborator: an ordered
// sequence of (ObjectID, size) records terminated by a whole-archive digest
// and an EOF marker.
package index

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/objectid"
)

const (
	tagObject byte = 0x01
	tagEOF    byte = 0x00
)

// Writer appends (id, size) records to an index and finalizes it with the
// archive digest and an EOF marker.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewWriter wraps w (which must be positioned at the start of the index)
// as an index Writer. If w also implements io.Closer, Close will close it.
func NewWriter(w io.Writer) *Writer {
	closer, _ := w.(io.Closer)
	return &Writer{w: bufio.NewWriter(w), closer: closer}
}

// WriteObject appends one (id, size) record.
func (iw *Writer) WriteObject(id objectid.ID, size uint64) error {
	raw, err := id.Bytes()
	if err != nil {
		return errors.Wrap(err, "index: encode object id")
	}

	if err := iw.w.WriteByte(tagObject); err != nil {
		return errors.Wrap(err, "index: write object tag")
	}
	if _, err := iw.w.Write(raw); err != nil {
		return errors.Wrap(err, "index: write object id")
	}
	if err := binary.Write(iw.w, binary.BigEndian, size); err != nil {
		return errors.Wrap(err, "index: write object size")
	}
	return nil
}

// SetDigest records the whole-archive digest. It must be called exactly
// once, before WriteEOF.
func (iw *Writer) SetDigest(digest objectid.ID) error {
	raw, err := digest.Bytes()
	if err != nil {
		return errors.Wrap(err, "index: encode archive digest")
	}

	if err := iw.w.WriteByte(tagEOF); err != nil {
		return errors.Wrap(err, "index: write eof tag")
	}
	if _, err := iw.w.Write(raw); err != nil {
		return errors.Wrap(err, "index: write archive digest")
	}
	return nil
}

// WriteEOF flushes the index. SetDigest must have already been called; the
// EOF record itself is the digest record written by SetDigest, matching the
// original format's "digest then EOF" pair collapsed into one trailing
// record.
func (iw *Writer) WriteEOF() error {
	return errors.Wrap(iw.w.Flush(), "index: flush")
}

// Close flushes any buffered data and closes the underlying writer, if it
// is closable.
func (iw *Writer) Close() error {
	if err := iw.w.Flush(); err != nil {
		return errors.Wrap(err, "index: flush on close")
	}
	if iw.closer != nil {
		return errors.Wrap(iw.closer.Close(), "index: close")
	}
	return nil
}

// Reader reads back (id, size) records written by a Writer.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	digest objectid.ID
	done   bool
}

// NewReader wraps r (positioned at the start of the index) as an index
// Reader.
func NewReader(r io.Reader) *Reader {
	closer, _ := r.(io.Closer)
	return &Reader{r: bufio.NewReader(r), closer: closer}
}

// ReadObject reads the next (id, size) record. It returns io.EOF once the
// terminal digest record has been consumed; after that, Digest returns the
// archive digest that was stored in the index.
func (ir *Reader) ReadObject() (objectid.ID, uint64, error) {
	if ir.done {
		return "", 0, io.EOF
	}

	tag, err := ir.r.ReadByte()
	if err != nil {
		return "", 0, errors.Wrap(err, "index: read tag")
	}

	switch tag {
	case tagObject:
		raw := make([]byte, objectid.Size)
		if _, err := io.ReadFull(ir.r, raw); err != nil {
			return "", 0, errors.Wrap(err, "index: read object id")
		}
		id, err := objectid.FromBytes(raw)
		if err != nil {
			return "", 0, errors.Wrap(err, "index: decode object id")
		}

		var size uint64
		if err := binary.Read(ir.r, binary.BigEndian, &size); err != nil {
			return "", 0, errors.Wrap(err, "index: read object size")
		}
		return id, size, nil

	case tagEOF:
		raw := make([]byte, objectid.Size)
		if _, err := io.ReadFull(ir.r, raw); err != nil {
			return "", 0, errors.Wrap(err, "index: read archive digest")
		}
		digest, err := objectid.FromBytes(raw)
		if err != nil {
			return "", 0, errors.Wrap(err, "index: decode archive digest")
		}
		ir.digest = digest
		ir.done = true
		return "", 0, io.EOF

	default:
		return "", 0, errors.Errorf("index: unknown record tag %#x", tag)
	}
}

// Digest returns the archive digest trailer. It is only valid after
// ReadObject has returned io.EOF.
func (ir *Reader) Digest() (objectid.ID, error) {
	if !ir.done {
		return "", errors.New("index: digest not available before EOF")
	}
	return ir.digest, nil
}

// Close closes the underlying reader, if it is closable.
func (ir *Reader) Close() error {
	if ir.closer != nil {
		return errors.Wrap(ir.closer.Close(), "index: close")
	}
	return nil
}
