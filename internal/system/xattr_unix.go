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
	"bytes"
	"errors"
	"os"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Llistxattr is a wrapper around unix.Llistattr, to abstract the NUL-splitting
// and resizing of the returned []string. archive.Encoder uses it to capture
// the PAX records that archive.Decoder later restores with Lsetxattr.
func Llistxattr(path string) ([]string, error) {
	var buffer []byte //nolint:prealloc // we do pre-allocate later
	for {
		// Find the size.
		sz, err := unix.Llistxattr(path, nil)
		if err != nil {
			// Could not get the size.
			return nil, pkgerrors.Wrapf(err, "llistxattr %s", path)
		}
		buffer = make([]byte, sz)

		// Get the buffer.
		_, err = unix.Llistxattr(path, buffer)
		if err != nil {
			// If we got an ERANGE then we have to resize the buffer because
			// someone raced with us getting the list. Don't you just love C
			// interfaces.
			if err == unix.ERANGE {
				continue
			}
			return nil, pkgerrors.Wrapf(err, "llistxattr %s", path)
		}

		break
	}

	// Split the buffer.
	xattrs := make([]string, 0, bytes.Count(buffer, []byte{'\x00'}))
	for _, name := range bytes.Split(buffer, []byte{'\x00'}) {
		// "" is not a valid xattr (weirdly you get ERANGE -- not EINVAL -- if
		// you try to touch it). So just skip it.
		if len(name) == 0 {
			continue
		}
		xattrs = append(xattrs, string(name))
	}
	return xattrs, nil
}

// Lgetxattr is a wrapper around unix.Lgetattr, to abstract the resizing of the
// returned []byte.
func Lgetxattr(path string, name string) ([]byte, error) {
	var buffer []byte //nolint:prealloc // we do pre-allocate later
	for {
		// Find the size.
		sz, err := unix.Lgetxattr(path, name, nil)
		if err != nil {
			// Could not get the size.
			return nil, pkgerrors.Wrapf(err, "lgetxattr %s %s", path, name)
		}
		buffer = make([]byte, sz)

		// Get the buffer.
		_, err = unix.Lgetxattr(path, name, buffer)
		if err != nil {
			// If we got an ERANGE then we have to resize the buffer because
			// someone raced with us getting the list. Don't you just love C
			// interfaces.
			if err == unix.ERANGE {
				continue
			}
			return nil, pkgerrors.Wrapf(err, "lgetxattr %s %s", path, name)
		}

		break
	}
	return buffer, nil
}

// Lsetxattr is a wrapper around unix.Lsetxattr, used by archive.Decoder to
// restore the PAX records archive.Encoder captured with Llistxattr/Lgetxattr.
func Lsetxattr(path, name string, value []byte, flags int) error {
	return pkgerrors.Wrapf(unix.Lsetxattr(path, name, value, flags), "lsetxattr %s %s", path, name)
}

// Lclearxattrs is a wrapper around Llistxattr and Lremovexattr, which attempts
// to remove all xattrs from a given file.
//
// If skipFn is non-nil and returns true when passed an xattr we planned to
// remove, that xattr is skipped and remains set on the path.
func Lclearxattrs(path string, skipFn func(xattrName string) bool) error {
	names, err := Llistxattr(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "lclearxattrs %s: get list", path)
	}
	for _, name := range names {
		if skipFn != nil && skipFn(name) {
			continue
		}
		if err := unix.Lremovexattr(path, name); err != nil {
			// Ignore permission errors, because hitting a permission error
			// means that it's a security.* xattr label or something similar.
			if errors.Is(err, os.ErrPermission) {
				continue
			}
			return pkgerrors.Wrapf(err, "lclearxattrs %s: remove xattr %q", path, name)
		}
	}
	return nil
}
