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

// Package archive implements the encoder and decoder collaborators
// described by the synchronization driver. The encoder walks a
// filesystem tree (or regular file, or block device) and emits its
// encoding as a pulled sequence of byte slices over an archive/tar
// envelope; the decoder drives the reverse transformation, requesting
// archive bytes from its caller and reconstructing the tree on disk.
//
// Neither type touches the driver's chunker, stores, index, or digests:
// they only produce and consume the linear archive byte stream, exactly as
// this design requires of these collaborators.
package archive

import "os"

// StepResult is the outcome of one Encoder or Decoder Step call.
type StepResult int

const (
	// Finished indicates the encode or decode operation is complete.
	Finished StepResult = iota
	// NextFile indicates a filesystem entry boundary was crossed. The
	// associated bytes (GetData, for encode) still need to be processed by
	// the driver's sinks like any other step.
	NextFile
	// Data indicates ordinary progress within the current entry (encode
	// only).
	Data
	// Step indicates ordinary progress that does not cross an entry
	// boundary and carries no payload of its own (decode only).
	Step
	// Payload indicates bytes were written to the base tree (decode only).
	Payload
	// Request indicates the decoder needs more archive bytes, to be
	// supplied via PutData, PutDataFD, or PutEOF (decode only).
	Request
)

func (r StepResult) String() string {
	switch r {
	case Finished:
		return "FINISHED"
	case NextFile:
		return "NEXT_FILE"
	case Data:
		return "DATA"
	case Step:
		return "STEP"
	case Payload:
		return "PAYLOAD"
	case Request:
		return "REQUEST"
	default:
		return "UNKNOWN"
	}
}

// baseKind classifies what kind of filesystem object the base descriptor
// refers to, matching the base_mode bitmask used to configure a base by path.
type baseKind int

const (
	kindRegular baseKind = iota
	kindDirectory
	kindBlockDevice
)

func statKind(fi os.FileInfo) baseKind {
	switch {
	case fi.IsDir():
		return kindDirectory
	case fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0:
		return kindBlockDevice
	default:
		return kindRegular
	}
}
