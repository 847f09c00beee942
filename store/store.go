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

// Package store implements the object store collaborator and the
// multi-store fan-in: one writable store that new chunks
// are written to, and an ordered list of read-only seed stores consulted
// during decode.
package store

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/objectid"
)

// ErrNotFound is returned by Get when no configured store holds the
// requested object.
var ErrNotFound = errors.New("store: object not found")

// ErrReadOnly is returned by Put when the store (or fan-in) has no
// writable backing store.
var ErrReadOnly = errors.New("store: no writable store configured")

// Store is a content-addressed blob repository: put-by-id, get-by-id.
type Store interface {
	// Get retrieves the bytes stored under id. It returns an error
	// wrapping ErrNotFound if id is not present.
	Get(ctx context.Context, id objectid.ID) ([]byte, error)

	// Put stores data under id. Put is expected to be idempotent: storing
	// the same id twice is not an error.
	Put(ctx context.Context, id objectid.ID, data []byte) error
}

// FanIn cascades Get through the writable store (if any)
// then each seed store in registration order, returning the first result
// that is not "not found". Put always targets the writable store.
type FanIn struct {
	writable Store
	seeds    []Store
}

// NewFanIn constructs a FanIn with no stores configured. Use SetWritable
// and AddSeed to populate it.
func NewFanIn() *FanIn {
	return &FanIn{}
}

// SetWritable installs the single writable store. It fails busy if one is
// already configured.
func (f *FanIn) SetWritable(s Store) error {
	if f.writable != nil {
		return errors.New("store: writable store already configured")
	}
	f.writable = s
	return nil
}

// AddSeed appends a read-only seed store, consulted in registration order
// after the writable store.
func (f *FanIn) AddSeed(s Store) {
	f.seeds = append(f.seeds, s)
}

// HasWritable reports whether a writable store has been configured.
func (f *FanIn) HasWritable() bool {
	return f.writable != nil
}

// Get implements Store, cascading writable -> seeds in order. The first
// store that does not report "not found" wins, and its result (success or
// any other error) is returned unchanged.
func (f *FanIn) Get(ctx context.Context, id objectid.ID) ([]byte, error) {
	if f.writable != nil {
		data, err := f.writable.Get(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return data, err
		}
	}

	for _, seed := range f.seeds {
		data, err := seed.Get(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return data, err
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "%s", id)
}

// Put implements Store. It requires a writable store.
func (f *FanIn) Put(ctx context.Context, id objectid.ID, data []byte) error {
	if f.writable == nil {
		return ErrReadOnly
	}
	return f.writable.Put(ctx, id, data)
}

// readAll is a small helper shared by store backends. It is a plain
// io.ReadAll with error wrapping; unlike internal/system.Copy it does not
// resume after an EINTR.
func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	return data, errors.Wrap(err, "read all")
}
