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

// Package driver implements the synchronization driver: the single
// threaded, cooperative state machine that sits between an archive
// encoder/decoder, a content-defined chunker, a fan-in of object stores,
// and an index, coordinating them into a single caller-driven step loop.
package driver

import (
	"context"
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/archive"
	"github.com/cyphar/casync-go/index"
	"github.com/cyphar/casync-go/internal/chunker"
	"github.com/cyphar/casync-go/objectid"
	"github.com/cyphar/casync-go/store"
)

// Direction is fixed at construction and never changes for the lifetime of
// a Driver.
type Direction int

const (
	// Encode drives a filesystem tree into an archive, chunk store, and
	// index.
	Encode Direction = iota
	// Decode drives an index/store or a raw archive back into a
	// filesystem tree.
	Decode
)

func (d Direction) String() string {
	if d == Decode {
		return "decode"
	}
	return "encode"
}

// BaseMode names the kind of filesystem object the base names, used when
// configuring a base by path rather than by an already-open descriptor.
type BaseMode int

const (
	// BaseModeRegular is a plain file.
	BaseModeRegular BaseMode = iota
	// BaseModeDirectory is a directory tree.
	BaseModeDirectory
	// BaseModeBlockDevice is a block device.
	BaseModeBlockDevice
)

func validBaseMode(mode BaseMode) bool {
	switch mode {
	case BaseModeRegular, BaseModeDirectory, BaseModeBlockDevice:
		return true
	default:
		return false
	}
}

// StepResult is the outcome of one Driver Step call.
type StepResult int

const (
	// StepProgress indicates ordinary progress was made.
	StepProgress StepResult = iota
	// StepNextFile indicates a filesystem entry boundary was crossed.
	StepNextFile
	// StepFinished is terminal: EOF has latched.
	StepFinished
)

func (r StepResult) String() string {
	switch r {
	case StepNextFile:
		return "NEXT_FILE"
	case StepFinished:
		return "FINISHED"
	default:
		return "STEP"
	}
}

// permMask is the only set of bits accepted by SetMakePermMode: user,
// group, and other read/write, with no execute or special bits.
const permMask = 0o666

// Driver is the synchronization driver state machine. The zero value is
// not usable; construct one with New.
type Driver struct {
	direction Direction

	baseFD      *os.File
	basePath    string
	baseHasPath bool
	baseMode    BaseMode
	baseHasMode bool

	archiveFD      *os.File
	archivePath    string
	archiveHasPath bool

	indexFD      *os.File
	indexPath    string
	indexHasPath bool

	makePermMode    os.FileMode
	makePermModeSet bool

	writable    store.Store
	writableSet bool
	seeds       []store.Store
	stores      *store.FanIn

	encoder *archive.Encoder
	decoder *archive.Decoder

	chunker       *chunker.Chunker
	chunkSizeSet  bool
	pendingBuffer []byte

	archiveDigest *objectid.ArchiveDigest
	objectDigest  *objectid.Digester

	tempBasePath    string
	tempArchivePath string

	indexWriter *index.Writer
	indexReader *index.Reader

	started bool
	eof     bool
	failed  bool

	currentPath string
	currentMode os.FileMode
}

// New constructs an empty Driver for the given direction.
func New(direction Direction) *Driver {
	return &Driver{
		direction:     direction,
		chunker:       chunker.NewDefault(),
		archiveDigest: objectid.NewArchiveDigest(),
		objectDigest:  objectid.NewDigester(),
	}
}

// SetBaseFD transfers ownership of fd as the base to encode from or decode
// into.
func (d *Driver) SetBaseFD(fd *os.File) error {
	if fd == nil {
		return ErrBadArgument
	}
	if d.started || d.baseFD != nil || d.baseHasPath || d.baseHasMode {
		return ErrBusy
	}
	d.baseFD = fd
	return nil
}

// SetBasePath configures the base by path, to be opened (ENCODE) or
// materialized (DECODE) at start.
func (d *Driver) SetBasePath(path string) error {
	if path == "" {
		return ErrBadArgument
	}
	if d.started || d.baseFD != nil || d.baseHasPath {
		return ErrBusy
	}
	d.basePath = path
	d.baseHasPath = true
	return nil
}

// SetBaseMode declares the kind of the base when it is configured by path;
// only meaningful in DECODE.
func (d *Driver) SetBaseMode(mode BaseMode) error {
	if d.direction != Decode {
		return ErrNotSupportedInDirection
	}
	if !validBaseMode(mode) {
		return ErrBadArgument
	}
	if d.started || d.baseFD != nil || d.baseHasMode {
		return ErrBusy
	}
	d.baseMode = mode
	d.baseHasMode = true
	return nil
}

// SetMakePermMode sets the permission mask applied to newly created
// archive files; only meaningful in ENCODE.
func (d *Driver) SetMakePermMode(mode os.FileMode) error {
	if d.direction != Encode {
		return ErrNotSupportedInDirection
	}
	if mode&^permMask != 0 {
		return ErrBadArgument
	}
	if d.started || d.makePermModeSet {
		return ErrBusy
	}
	d.makePermMode = mode
	d.makePermModeSet = true
	return nil
}

// SetChunkSize overrides the chunker's min/avg/max size knobs, the same
// three knobs casync itself exposes via --chunk-size; only meaningful in
// ENCODE. A Driver on which SetChunkSize is never called chunks with
// chunker.NewDefault's sizes; zero sizes are rejected by chunker.New.
func (d *Driver) SetChunkSize(min, avg, max uint64) error {
	if d.direction != Encode {
		return ErrNotSupportedInDirection
	}
	if d.started || d.chunkSizeSet {
		return ErrBusy
	}
	c, err := chunker.New(min, avg, max)
	if err != nil {
		return errors.Wrap(err, "set chunk size")
	}
	d.chunker = c
	d.chunkSizeSet = true
	return nil
}

// SetArchiveFD transfers ownership of fd as the archive descriptor.
func (d *Driver) SetArchiveFD(fd *os.File) error {
	if fd == nil {
		return ErrBadArgument
	}
	if d.started || d.archiveFD != nil || d.archiveHasPath {
		return ErrBusy
	}
	d.archiveFD = fd
	return nil
}

// SetArchivePath configures the archive by path. In DECODE mode the path
// is opened read-only immediately; in ENCODE mode creation is deferred to
// start so that SetMakePermMode still applies.
func (d *Driver) SetArchivePath(path string) error {
	if path == "" {
		return ErrBadArgument
	}
	if d.started || d.archiveFD != nil || d.archiveHasPath {
		return ErrBusy
	}
	if d.direction == Decode {
		fh, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open archive %s", path)
		}
		d.archiveFD = fh
	}
	d.archivePath = path
	d.archiveHasPath = true
	return nil
}

// SetIndexFD transfers ownership of fd as the index descriptor.
func (d *Driver) SetIndexFD(fd *os.File) error {
	if fd == nil {
		return ErrBadArgument
	}
	if d.started || d.indexFD != nil || d.indexHasPath {
		return ErrBusy
	}
	d.indexFD = fd
	return nil
}

// SetIndexPath configures the index by path, opened at start.
func (d *Driver) SetIndexPath(path string) error {
	if path == "" {
		return ErrBadArgument
	}
	if d.started || d.indexFD != nil || d.indexHasPath {
		return ErrBusy
	}
	d.indexPath = path
	d.indexHasPath = true
	return nil
}

// SetStoreLocal configures the single writable store backed by an on-disk
// directory at path.
func (d *Driver) SetStoreLocal(path string) error {
	if path == "" {
		return ErrBadArgument
	}
	if d.started || d.writableSet {
		return ErrBusy
	}
	s, err := store.NewLocalStore(path)
	if err != nil {
		return errors.Wrapf(err, "open writable store %s", path)
	}
	d.writable = s
	d.writableSet = true
	return nil
}

// AddSeedStoreLocal appends a read-only seed store backed by an on-disk
// directory at path, consulted in registration order during Get.
func (d *Driver) AddSeedStoreLocal(path string) error {
	if path == "" {
		return ErrBadArgument
	}
	if d.started {
		return ErrBusy
	}
	s, err := store.NewLocalStore(path)
	if err != nil {
		return errors.Wrapf(err, "open seed store %s", path)
	}
	d.seeds = append(d.seeds, s)
	return nil
}

// Get resolves an object by id through the configured store fan-in,
// independent of the step loop.
func (d *Driver) Get(ctx context.Context, id objectid.ID) ([]byte, error) {
	if err := d.start(); err != nil {
		return nil, err
	}
	return d.stores.Get(ctx, id)
}

// Put submits an object to the writable store through the configured fan-in,
// independent of the step loop.
func (d *Driver) Put(ctx context.Context, id objectid.ID, data []byte) error {
	if err := d.start(); err != nil {
		return err
	}
	return d.stores.Put(ctx, id, data)
}

// CurrentPath forwards to the encoder/decoder's notion of the entry
// currently being processed.
func (d *Driver) CurrentPath() string {
	return d.currentPath
}

// CurrentMode forwards to the encoder/decoder's notion of the entry
// currently being processed.
func (d *Driver) CurrentMode() os.FileMode {
	return d.currentMode
}

// GetDigest returns the archive digest, valid only after EOF has latched.
func (d *Driver) GetDigest() (objectid.ID, error) {
	if !d.eof {
		return "", ErrBusy
	}
	return d.archiveDigest.Sum()
}

// MakeObjectID computes the content-addressed identifier for an arbitrary
// byte slice, independent of the step loop.
func (d *Driver) MakeObjectID(data []byte) (objectid.ID, error) {
	return d.objectDigest.Sum(data)
}

// Close releases all resources held by the Driver. Outstanding temporary
// files are unlinked; this mirrors the destruction semantics of a
// single-threaded, cooperative driver with no background work.
func (d *Driver) Close() error {
	if d.tempArchivePath != "" {
		log.WithField("path", d.tempArchivePath).Debug("unlinking temporary archive on close")
		_ = os.Remove(d.tempArchivePath)
		d.tempArchivePath = ""
	}
	if d.tempBasePath != "" {
		log.WithField("path", d.tempBasePath).Debug("unlinking temporary base on close")
		_ = os.Remove(d.tempBasePath)
		d.tempBasePath = ""
	}
	if d.indexWriter != nil {
		_ = d.indexWriter.Close()
		d.indexWriter = nil
	}
	if d.indexReader != nil {
		_ = d.indexReader.Close()
		d.indexReader = nil
	}
	if d.indexFD != nil {
		_ = d.indexFD.Close()
		d.indexFD = nil
	}
	if d.archiveFD != nil {
		_ = d.archiveFD.Close()
		d.archiveFD = nil
	}
	if d.baseFD != nil {
		_ = d.baseFD.Close()
		d.baseFD = nil
	}
	return nil
}
