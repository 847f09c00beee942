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

package system

import (
	"errors"
	"io"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Copy has identical semantics to io.Copy except it automatically resumes
// after an EINTR. File bodies in archive.Encoder and archive.Decoder, and
// the archive output written by driver.Driver.processEncodedBytes, flow
// through this retry loop; tar headers are read and written by archive/tar
// directly and do not.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	// Make a buffer so io.Copy doesn't make one for each iteration.
	var buf []byte
	size := 32 * 1024
	if lr, ok := src.(*io.LimitedReader); ok && lr.N < int64(size) {
		if lr.N < 1 {
			size = 1
		} else {
			size = int(lr.N)
		}
	}
	buf = make([]byte, size)

	var written int64
	for {
		n, err := io.CopyBuffer(dst, src, buf)
		written += n // n is always non-negative
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return written, pkgerrors.Wrap(err, "system: copy")
	}
}

// CopyN has identical semantics to io.CopyN except it automatically resumes
// after an EINTR. Callers (archive.Decoder's regular-file and directory
// unpack paths) rely on the returned error being exactly io.EOF, unwrapped,
// when the source ends prematurely.
func CopyN(dst io.Writer, src io.Reader, n int64) (int64, error) {
	// This is based on the stdlib io.CopyN implementation.
	written, err := Copy(dst, io.LimitReader(src, n))
	if written == n {
		err = nil // somewhat confusing io.CopyN semantics
	}
	if written < n && err == nil {
		err = io.EOF // if the source ends prematurely, io.EOF
	}
	return written, err
}
