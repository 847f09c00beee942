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

// Package objectid implements the digest façade described by the
// synchronization driver: a fixed-width, content-derived identifier for
// chunks, and the pair of independent SHA-256 accumulators used to compute
// it and the whole-archive digest.
package objectid

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Size is the width in bytes of an ID (SHA-256 output).
const Size = sha256.Size

// Algorithm is the only digest algorithm this package produces or accepts.
const Algorithm = digest.SHA256

// ID is a fixed-width content identifier: the SHA-256 of a chunk's bytes.
// Equal bytes always produce an equal ID. It is represented internally as
// an OCI digest restricted to sha256, the same type umoci uses for blob
// digests.
type ID digest.Digest

// String returns the "sha256:<hex>" form of the ID.
func (id ID) String() string {
	return string(id)
}

// Bytes returns the raw 32-byte digest encoded by id.
func (id ID) Bytes() ([]byte, error) {
	d := digest.Digest(id)
	if err := d.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate object id")
	}
	return hex.DecodeString(d.Encoded())
}

// FromBytes builds an ID from a raw 32-byte digest, as read back from an
// index record.
func FromBytes(raw []byte) (ID, error) {
	if len(raw) != Size {
		return "", errors.Errorf("object id: expected %d raw bytes, got %d", Size, len(raw))
	}
	return ID(digest.NewDigestFromEncoded(Algorithm, hex.EncodeToString(raw))), nil
}

// Parse validates and wraps a "sha256:<hex>" string as an ID.
func Parse(s string) (ID, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return "", errors.Wrap(err, "parse object id")
	}
	if d.Algorithm() != Algorithm {
		return "", errors.Errorf("object id: unsupported algorithm %q", d.Algorithm())
	}
	return ID(d), nil
}

// Digester is the per-chunk SHA-256 accumulator. It is reused and
// reset between chunks to avoid reallocating hash state for every chunk in
// the archive.
type Digester struct {
	h hash.Hash
}

// NewDigester allocates a reusable chunk digester.
func NewDigester() *Digester {
	return &Digester{h: sha256.New()}
}

// Sum resets the digester, writes b, and returns the resulting ID. This is
// make_object_id: a pure function of b, implemented with a
// cached, reset-between-calls hash state.
func (d *Digester) Sum(b []byte) (ID, error) {
	d.h.Reset()
	if _, err := d.h.Write(b); err != nil {
		return "", errors.Wrap(err, "hash chunk")
	}
	return FromBytes(d.h.Sum(nil))
}

// ArchiveDigest is the whole-archive SHA-256 accumulator. Unlike
// Digester it is never reset: every byte handed to the encode tee, or every
// byte reconstructed by an index-driven decode, is absorbed exactly once.
type ArchiveDigest struct {
	h hash.Hash
}

// NewArchiveDigest allocates the archive digest. The driver calls it once,
// from New, so the digest exists from construction on; it is not allocated
// lazily on first use.
func NewArchiveDigest() *ArchiveDigest {
	return &ArchiveDigest{h: sha256.New()}
}

// Write absorbs bytes into the running archive digest.
func (a *ArchiveDigest) Write(b []byte) error {
	if _, err := a.h.Write(b); err != nil {
		return errors.Wrap(err, "hash archive bytes")
	}
	return nil
}

// Sum returns the current value of the archive digest, as an ID.
func (a *ArchiveDigest) Sum() (ID, error) {
	return FromBytes(a.h.Sum(nil))
}
