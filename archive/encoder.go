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
	"sort"

	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/internal/system"
)

type encoderEvent struct {
	kind StepResult
	data []byte
	path string
	mode os.FileMode
	err  error
}

// entryWriter is an io.Writer adapter that turns archive/tar's push-style
// Write calls into the driver's pull-style Step/GetData protocol: every
// Write is forwarded as an event on a channel, where it blocks until Step
// receives it. The first Write following a call to startEntry is tagged
// NextFile; every following Write is tagged Data, mirroring how casync's
// own encoder treats a new file's header as the boundary and its body as
// ordinary data.
type entryWriter struct {
	out             chan<- encoderEvent
	pendingBoundary bool
	path            string
	mode            os.FileMode
}

func (w *entryWriter) startEntry(path string, mode os.FileMode) {
	w.pendingBoundary = true
	w.path = path
	w.mode = mode
}

func (w *entryWriter) Write(p []byte) (int, error) {
	kind := Data
	if w.pendingBoundary {
		kind = NextFile
		w.pendingBoundary = false
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	w.out <- encoderEvent{kind: kind, data: cp, path: w.path, mode: w.mode}
	return len(p), nil
}

// Encoder walks a filesystem tree (or regular file, or block device) and
// emits its encoding as a sequence of steps, satisfying the Encoder
// contract.
type Encoder struct {
	baseFD *os.File

	events  chan encoderEvent
	started bool
	done    bool

	lastData    []byte
	currentPath string
	currentMode os.FileMode
}

// NewEncoder constructs an Encoder with no base configured yet.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// SetBaseFD transfers ownership of fd (the root of the tree to encode) to
// the Encoder.
func (e *Encoder) SetBaseFD(fd *os.File) error {
	if e.baseFD != nil {
		return errors.New("encoder: base already set")
	}
	e.baseFD = fd
	return nil
}

// Step pulls one unit of work from the encoder.
func (e *Encoder) Step() (StepResult, error) {
	if e.done {
		return Finished, nil
	}
	if !e.started {
		if e.baseFD == nil {
			return 0, errors.New("encoder: no base configured")
		}
		e.events = make(chan encoderEvent)
		e.started = true
		go e.run(e.events)
	}

	ev := <-e.events
	if ev.err != nil {
		e.done = true
		return 0, ev.err
	}
	e.lastData = ev.data
	e.currentPath = ev.path
	e.currentMode = ev.mode
	if ev.kind == Finished {
		e.done = true
	}
	return ev.kind, nil
}

// GetData returns the bytes associated with the most recent Data or
// NextFile step.
func (e *Encoder) GetData() []byte {
	return e.lastData
}

// CurrentPath returns the path of the entry currently being encoded.
func (e *Encoder) CurrentPath() string {
	return e.currentPath
}

// CurrentMode returns the mode of the entry currently being encoded.
func (e *Encoder) CurrentMode() os.FileMode {
	return e.currentMode
}

func (e *Encoder) run(out chan<- encoderEvent) {
	defer close(out)

	fi, err := e.baseFD.Stat()
	if err != nil {
		out <- encoderEvent{err: errors.Wrap(err, "encoder: stat base")}
		return
	}

	switch statKind(fi) {
	case kindDirectory:
		err = e.walkDirectory(out)
	case kindBlockDevice:
		err = e.copyRaw(out)
	default:
		err = e.walkRegular(out, fi)
	}
	if err != nil {
		out <- encoderEvent{err: err}
		return
	}
	out <- encoderEvent{kind: Finished}
}

func (e *Encoder) walkRegular(out chan<- encoderEvent, fi os.FileInfo) error {
	w := &entryWriter{out: out}
	tw := tar.NewWriter(w)

	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return errors.Wrap(err, "encoder: build header")
	}
	hdr.Name = filepath.Base(e.baseFD.Name())

	w.startEntry(hdr.Name, fi.Mode())
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrap(err, "encoder: write header")
	}
	if _, err := system.Copy(tw, e.baseFD); err != nil {
		return errors.Wrap(err, "encoder: copy file body")
	}
	return errors.Wrap(tw.Close(), "encoder: close tar stream")
}

func (e *Encoder) copyRaw(out chan<- encoderEvent) error {
	w := &entryWriter{out: out}
	_, err := system.Copy(w, e.baseFD)
	return errors.Wrap(err, "encoder: copy block device")
}

func (e *Encoder) walkDirectory(out chan<- encoderEvent) error {
	root := e.baseFD.Name()

	var paths []string
	if err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}); err != nil {
		return errors.Wrap(err, "encoder: walk tree")
	}
	sort.Strings(paths)

	w := &entryWriter{out: out}
	tw := tar.NewWriter(w)

	for _, path := range paths {
		if err := e.addEntry(tw, w, root, path); err != nil {
			return err
		}
	}
	return errors.Wrap(tw.Close(), "encoder: close tar stream")
}

func (e *Encoder) addEntry(tw *tar.Writer, w *entryWriter, root, path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return errors.Wrapf(err, "encoder: lstat %s", path)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return errors.Wrapf(err, "encoder: relativize %s", path)
	}
	if rel == "." {
		rel = ""
	}

	linkname := ""
	if fi.Mode()&os.ModeSymlink != 0 {
		if linkname, err = os.Readlink(path); err != nil {
			return errors.Wrapf(err, "encoder: readlink %s", path)
		}
	}

	hdr, err := tar.FileInfoHeader(fi, linkname)
	if err != nil {
		return errors.Wrapf(err, "encoder: build header %s", path)
	}
	hdr.Name = filepath.ToSlash(rel)
	if fi.IsDir() {
		hdr.Name += "/"
	}

	if xattrs, xerr := system.Llistxattr(path); xerr == nil && len(xattrs) > 0 {
		hdr.PAXRecords = map[string]string{}
		for _, name := range xattrs {
			value, gerr := system.Lgetxattr(path, name)
			if gerr != nil {
				continue
			}
			hdr.PAXRecords["SCHILY.xattr."+name] = string(value)
		}
	}

	w.startEntry(hdr.Name, fi.Mode())
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "encoder: write header %s", path)
	}

	if fi.Mode().IsRegular() {
		fh, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "encoder: open %s", path)
		}
		defer fh.Close()

		if _, err := system.CopyN(tw, fh, fi.Size()); err != nil && err != io.EOF {
			return errors.Wrapf(err, "encoder: copy body %s", path)
		}
	}
	return nil
}
