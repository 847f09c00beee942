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

package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/internal/system"
)

type decoderEvent struct {
	kind StepResult
	path string
	mode os.FileMode
	err  error
}

// feedReader turns the decoder's pull-based need for archive bytes into the
// driver's request/response protocol: whenever the underlying tar stream
// runs dry, a Request step is emitted and the read blocks until the driver
// supplies more bytes via PutData, hands over a whole descriptor via
// PutDataFD, or signals the end of input via PutEOF.
type feedReader struct {
	out    chan<- decoderEvent
	dataCh chan []byte
	eofCh  chan struct{}
	fdCh   chan *os.File

	sourceFD *os.File
	buf      []byte
}

func newFeedReader(out chan<- decoderEvent) *feedReader {
	return &feedReader{
		out:    out,
		dataCh: make(chan []byte),
		eofCh:  make(chan struct{}),
		fdCh:   make(chan *os.File),
	}
}

func (r *feedReader) Read(p []byte) (int, error) {
	if r.sourceFD != nil {
		return r.sourceFD.Read(p)
	}
	if len(r.buf) == 0 {
		r.out <- decoderEvent{kind: Request}
		select {
		case b := <-r.dataCh:
			r.buf = b
		case <-r.eofCh:
			return 0, io.EOF
		case fd := <-r.fdCh:
			r.sourceFD = fd
			return fd.Read(p)
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Decoder drives the reverse transformation of Encoder: it requests archive
// bytes from its caller and reconstructs a filesystem tree (or regular
// file, or block device) from them.
type Decoder struct {
	baseFD   *os.File
	baseMode os.FileMode

	events  chan decoderEvent
	started bool
	done    bool

	awaitingData bool
	feed         *feedReader

	currentPath string
	currentMode os.FileMode
}

// NewDecoder constructs a Decoder with no base configured yet.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// SetBaseFD transfers ownership of fd (the root to materialize into) to the
// Decoder.
func (d *Decoder) SetBaseFD(fd *os.File) error {
	if d.baseFD != nil {
		return errors.New("decoder: base already set")
	}
	d.baseFD = fd
	return nil
}

// SetBaseMode records the intended kind of the base before the descriptor
// is necessarily available.
func (d *Decoder) SetBaseMode(mode os.FileMode) error {
	if d.started {
		return errors.New("decoder: base mode cannot change after first step")
	}
	d.baseMode = mode
	return nil
}

// Step pulls or pushes one unit of work through the decoder.
func (d *Decoder) Step() (StepResult, error) {
	if d.done {
		return Finished, nil
	}
	if !d.started {
		if d.baseFD == nil {
			return 0, errors.New("decoder: no base configured")
		}
		d.events = make(chan decoderEvent)
		d.feed = newFeedReader(d.events)
		d.started = true
		go d.run(d.events)
	}

	ev := <-d.events
	if ev.err != nil {
		d.done = true
		return 0, ev.err
	}
	if ev.kind == Request {
		d.awaitingData = true
		return Request, nil
	}
	if ev.path != "" {
		d.currentPath = ev.path
	}
	if ev.mode != 0 {
		d.currentMode = ev.mode
	}
	if ev.kind == Finished {
		d.done = true
	}
	return ev.kind, nil
}

// PutData supplies bytes in response to a Request step.
func (d *Decoder) PutData(data []byte) error {
	if !d.awaitingData {
		return errors.New("decoder: not waiting for data")
	}
	d.awaitingData = false
	cp := make([]byte, len(data))
	copy(cp, data)
	d.feed.dataCh <- cp
	return nil
}

// PutDataFD hands over a whole descriptor of unbounded length in response
// to a Request step; the decoder reads directly from it until EOF.
func (d *Decoder) PutDataFD(fd *os.File) error {
	if !d.awaitingData {
		return errors.New("decoder: not waiting for data")
	}
	d.awaitingData = false
	d.feed.fdCh <- fd
	return nil
}

// PutEOF signals that no further archive bytes will ever be supplied.
func (d *Decoder) PutEOF() error {
	if !d.awaitingData {
		return errors.New("decoder: not waiting for data")
	}
	d.awaitingData = false
	d.feed.eofCh <- struct{}{}
	return nil
}

// CurrentPath returns the path of the entry currently being decoded.
func (d *Decoder) CurrentPath() string {
	return d.currentPath
}

// CurrentMode returns the mode of the entry currently being decoded.
func (d *Decoder) CurrentMode() os.FileMode {
	return d.currentMode
}

func (d *Decoder) run(out chan<- decoderEvent) {
	defer close(out)

	fi, err := d.baseFD.Stat()
	if err != nil {
		out <- decoderEvent{err: errors.Wrap(err, "decoder: stat base")}
		return
	}

	switch statKind(fi) {
	case kindDirectory:
		err = d.unpackDirectory(out)
	case kindBlockDevice:
		err = d.copyRaw(out)
	default:
		err = d.unpackRegular(out)
	}
	if err != nil {
		out <- decoderEvent{err: err}
		return
	}
	out <- decoderEvent{kind: Finished}
}

func (d *Decoder) copyRaw(out chan<- decoderEvent) error {
	_, err := system.Copy(d.baseFD, d.feed)
	return errors.Wrap(err, "decoder: copy block device")
}

func (d *Decoder) unpackRegular(out chan<- decoderEvent) error {
	tr := tar.NewReader(d.feed)
	hdr, err := tr.Next()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "decoder: read header")
	}

	out <- decoderEvent{kind: NextFile, path: hdr.Name, mode: hdr.FileInfo().Mode()}
	if _, err := system.CopyN(d.baseFD, tr, hdr.Size); err != nil && err != io.EOF {
		return errors.Wrap(err, "decoder: write body")
	}
	out <- decoderEvent{kind: Payload, path: hdr.Name, mode: hdr.FileInfo().Mode()}
	return nil
}

func (d *Decoder) unpackDirectory(out chan<- decoderEvent) error {
	root := d.baseFD.Name()
	tr := tar.NewReader(d.feed)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "decoder: read header")
		}

		path, err := securejoin.SecureJoin(root, hdr.Name)
		if err != nil {
			return errors.Wrapf(err, "decoder: resolve %s", hdr.Name)
		}

		hasPayload, err := d.unpackEntry(tr, path, hdr)
		if err != nil {
			return errors.Wrapf(err, "decoder: unpack %s", hdr.Name)
		}

		out <- decoderEvent{kind: NextFile, path: hdr.Name, mode: hdr.FileInfo().Mode()}
		if hasPayload {
			out <- decoderEvent{kind: Payload, path: hdr.Name, mode: hdr.FileInfo().Mode()}
		}
	}
}

func (d *Decoder) unpackEntry(tr *tar.Reader, path string, hdr *tar.Header) (bool, error) {
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(path, 0o755); err != nil {
			return false, err
		}
		return false, d.restoreMetadata(path, hdr)

	case tar.TypeSymlink:
		_ = os.Remove(path)
		if err := os.Symlink(hdr.Linkname, path); err != nil {
			return false, err
		}
		return false, d.restoreMetadata(path, hdr)

	case tar.TypeBlock, tar.TypeChar, tar.TypeFifo:
		_ = os.Remove(path)
		mode := system.Tarmode(hdr.Typeflag)
		dev := system.Makedev(uint64(hdr.Devmajor), uint64(hdr.Devminor))
		if err := system.Mknod(path, os.FileMode(int64(mode)|hdr.Mode), dev); err != nil {
			return false, err
		}
		return false, d.restoreMetadata(path, hdr)

	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return false, err
		}
		fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return false, err
		}
		defer fh.Close()

		if _, err := system.CopyN(fh, tr, hdr.Size); err != nil && err != io.EOF {
			return true, err
		}
		return true, d.restoreMetadata(path, hdr)
	}
}

func (d *Decoder) restoreMetadata(path string, hdr *tar.Header) error {
	fi := hdr.FileInfo()
	isSymlink := hdr.Typeflag == tar.TypeSymlink

	if !isSymlink {
		if err := os.Chmod(path, fi.Mode()); err != nil {
			return errors.Wrapf(err, "chmod %s", path)
		}
	}

	if err := system.Lclearxattrs(path, nil); err != nil {
		return errors.Wrapf(err, "clear xattrs %s", path)
	}
	for name, value := range hdr.PAXRecords {
		const prefix = "SCHILY.xattr."
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		if err := system.Lsetxattr(path, name[len(prefix):], []byte(value), 0); err != nil {
			return errors.Wrapf(err, "restore xattr %s on %s", name, path)
		}
	}

	mtime := hdr.ModTime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	atime := hdr.AccessTime
	if atime.IsZero() {
		atime = mtime
	}
	return errors.Wrapf(system.Lutimes(path, atime, mtime), "restore times %s", path)
}
