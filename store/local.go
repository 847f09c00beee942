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

package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"github.com/cyphar/casync-go/objectid"
)

// LocalStore is a directory-backed Store, laid out the same way umoci's
// on-disk blob store is: objects live under a two-character fan-out
// directory taken from the id's hex digest, avoiding a single directory
// with millions of entries. Unlike umoci's uncompressed blobs, chunks are
// compressed at rest with xz, mirroring the compression casync itself
// applies to ".cacnk" chunk files.
type LocalStore struct {
	path string
	temp string
}

// NewLocalStore opens (and if necessary creates) a chunk store rooted at
// path.
func NewLocalStore(path string) (*LocalStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(err, "store: create root")
	}
	temp := filepath.Join(path, ".tmp")
	if err := os.MkdirAll(temp, 0o755); err != nil {
		return nil, errors.Wrap(err, "store: create tempdir")
	}
	return &LocalStore{path: path, temp: temp}, nil
}

func (s *LocalStore) objectPath(id objectid.ID) (string, error) {
	raw, err := id.Bytes()
	if err != nil {
		return "", errors.Wrap(err, "store: compute object path")
	}
	hexID := id.String()
	// Strip the "sha256:" algorithm prefix for the on-disk name.
	const prefix = "sha256:"
	name := hexID[len(prefix):]
	if len(raw) < 1 || len(name) < 3 {
		return "", errors.Errorf("store: malformed object id %q", hexID)
	}
	return filepath.Join(s.path, name[:2], name[2:]+".cacnk"), nil
}

// Get implements Store.
func (s *LocalStore) Get(_ context.Context, id objectid.ID) ([]byte, error) {
	path, err := s.objectPath(id)
	if err != nil {
		return nil, err
	}

	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s", id)
		}
		return nil, errors.Wrap(err, "store: open object")
	}
	defer fh.Close()

	xr, err := xz.NewReader(fh)
	if err != nil {
		return nil, errors.Wrap(err, "store: open xz stream")
	}
	return readAll(xr)
}

// Put implements Store. It is idempotent: an object already on disk is not
// rewritten.
func (s *LocalStore) Put(_ context.Context, id objectid.ID, data []byte) error {
	path, err := s.objectPath(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		log.WithField("id", id.String()).Debug("store: object already present")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "store: create fan-out dir")
	}

	fh, err := os.CreateTemp(s.temp, "cacnk-")
	if err != nil {
		return errors.Wrap(err, "store: create temporary object")
	}
	tempPath := fh.Name()
	defer os.Remove(tempPath)
	defer fh.Close()

	xw, err := xz.NewWriter(fh)
	if err != nil {
		return errors.Wrap(err, "store: open xz writer")
	}
	if _, err := io.Copy(xw, bytes.NewReader(data)); err != nil {
		return errors.Wrap(err, "store: compress object")
	}
	if err := xw.Close(); err != nil {
		return errors.Wrap(err, "store: finish xz stream")
	}
	if err := fh.Close(); err != nil {
		return errors.Wrap(err, "store: close temporary object")
	}

	if err := os.Rename(tempPath, path); err != nil {
		return errors.Wrap(err, "store: rename temporary object")
	}
	return nil
}

// Close removes the store's scratch temp directory.
func (s *LocalStore) Close() error {
	return errors.Wrap(os.RemoveAll(s.temp), "store: remove tempdir")
}
