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

package driver

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/archive"
	"github.com/cyphar/casync-go/index"
	"github.com/cyphar/casync-go/store"
)

// start is idempotent and runs before the first step. It materializes
// whatever was only configured by path, constructs the encoder or decoder
// and transfers base ownership to it, and opens the index if present.
func (d *Driver) start() error {
	if d.started {
		return nil
	}
	d.started = true

	d.stores = store.NewFanIn()
	if d.writable != nil {
		if err := d.stores.SetWritable(d.writable); err != nil {
			return errors.Wrap(err, "wire writable store")
		}
	}
	for _, s := range d.seeds {
		d.stores.AddSeed(s)
	}

	if d.direction == Encode {
		return d.startEncode()
	}
	return d.startDecode()
}

func (d *Driver) startEncode() error {
	if d.archiveHasPath && d.archiveFD == nil {
		fh, tmp, err := createTempSibling(d.archivePath, d.makePermMode)
		if err != nil {
			return errors.Wrapf(err, "create temporary archive for %s", d.archivePath)
		}
		d.archiveFD = fh
		d.tempArchivePath = tmp
	}

	d.encoder = archive.NewEncoder()
	if err := d.transferBaseTo(d.encoder.SetBaseFD, openBaseForEncode); err != nil {
		return err
	}

	if d.indexHasPath || d.indexFD != nil {
		fd := d.indexFD
		if fd == nil {
			fh, err := os.Create(d.indexPath)
			if err != nil {
				return errors.Wrapf(err, "create index %s", d.indexPath)
			}
			fd = fh
		}
		d.indexFD = fd
		d.indexWriter = index.NewWriter(fd)
	}
	return nil
}

func (d *Driver) startDecode() error {
	d.decoder = archive.NewDecoder()
	if err := d.transferBaseTo(d.decoder.SetBaseFD, materializeBaseForDecode); err != nil {
		return err
	}

	if d.indexHasPath || d.indexFD != nil {
		fd := d.indexFD
		if fd == nil {
			fh, err := os.Open(d.indexPath)
			if err != nil {
				return errors.Wrapf(err, "open index %s", d.indexPath)
			}
			fd = fh
		}
		d.indexFD = fd
		d.indexReader = index.NewReader(fd)
	}
	return nil
}

// transferBaseTo hands the base descriptor to setFD, opening it from path
// first via openFromPath if it was only configured by path. The driver's
// own slot is cleared before the callee can fail, so that a failure never
// leaves the descriptor owned by both sides.
func (d *Driver) transferBaseTo(setFD func(*os.File) error, openFromPath func(*Driver) (*os.File, error)) error {
	var fd *os.File
	switch {
	case d.baseFD != nil:
		fd = d.baseFD
		d.baseFD = nil
	case d.baseHasPath:
		opened, err := openFromPath(d)
		if err != nil {
			return errors.Wrapf(err, "open base %s", d.basePath)
		}
		fd = opened
	default:
		return nil
	}
	return setFD(fd)
}

func openBaseForEncode(d *Driver) (*os.File, error) {
	return os.Open(d.basePath)
}

func materializeBaseForDecode(d *Driver) (*os.File, error) {
	switch d.baseMode {
	case BaseModeDirectory:
		if err := os.MkdirAll(d.basePath, 0o755); err != nil {
			return nil, err
		}
		return os.Open(d.basePath)
	case BaseModeRegular:
		fh, tmp, err := createTempSibling(d.basePath, 0o644)
		if err != nil {
			return nil, err
		}
		d.tempBasePath = tmp
		return fh, nil
	case BaseModeBlockDevice:
		return os.OpenFile(d.basePath, os.O_WRONLY, 0)
	default:
		return nil, ErrNoSuchBackend
	}
}

// createTempSibling creates a new file next to target with a random
// suffix, exclusively (to avoid races with a concurrent creator), using
// perm if non-zero or 0o600 otherwise.
func createTempSibling(target string, perm os.FileMode) (*os.File, string, error) {
	if perm == 0 {
		perm = 0o600
	}
	dir := filepath.Dir(target)
	base := filepath.Base(target)

	for attempt := 0; attempt < 16; attempt++ {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		candidate := filepath.Join(dir, "."+base+"."+suffix+".tmp")
		fh, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
		if err == nil {
			return fh, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
	return nil, "", errors.Errorf("create temporary sibling of %s: too many collisions", target)
}

func randomSuffix() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate random suffix")
	}
	return hex.EncodeToString(buf), nil
}
