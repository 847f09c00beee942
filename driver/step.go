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
	"bytes"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/archive"
	"github.com/cyphar/casync-go/internal/system"
)

// Step advances the driver by one unit of work, returning STEP for
// ordinary progress, NEXT_FILE when a filesystem entry boundary was
// crossed, or FINISHED once the pipeline has run to completion. After
// FINISHED, every subsequent Step fails with ErrBrokenPipeline.
func (d *Driver) Step() (StepResult, error) {
	if d.eof || d.failed {
		return 0, ErrBrokenPipeline
	}
	if err := d.start(); err != nil {
		d.failed = true
		return 0, err
	}

	var res StepResult
	var err error
	if d.direction == Encode {
		res, err = d.stepEncode()
	} else {
		res, err = d.stepDecode()
	}
	if err != nil {
		d.failed = true
	}
	return res, err
}

func (d *Driver) stepEncode() (StepResult, error) {
	res, err := d.encoder.Step()
	if err != nil {
		return 0, errors.Wrap(err, "encoder step")
	}

	d.currentPath = d.encoder.CurrentPath()
	d.currentMode = d.encoder.CurrentMode()

	switch res {
	case archive.Finished:
		if err := d.finishEncode(); err != nil {
			return 0, err
		}
		d.eof = true
		return StepFinished, nil

	case archive.NextFile, archive.Data:
		if err := d.processEncodedBytes(d.encoder.GetData()); err != nil {
			return 0, err
		}
		if res == archive.NextFile {
			return StepNextFile, nil
		}
		return StepProgress, nil

	default:
		return 0, errors.Errorf("encoder: unexpected step result %v", res)
	}
}

// processEncodedBytes feeds one unit of encoded output to the three sinks
// of invariant 7: the archive file (if any), the archive digest
// (unconditionally), and the chunker/store/index (if a writable store is
// configured). No byte is dropped or duplicated between them.
func (d *Driver) processEncodedBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if d.archiveFD != nil {
		if _, err := system.Copy(d.archiveFD, bytes.NewReader(data)); err != nil {
			return errors.Wrap(err, "write archive output")
		}
	}
	if err := d.archiveDigest.Write(data); err != nil {
		return errors.Wrap(err, "absorb archive digest")
	}
	if d.writable != nil {
		return d.feedChunker(data)
	}
	return nil
}

func (d *Driver) feedChunker(data []byte) error {
	rest := data
	for {
		cut, ok := d.chunker.Scan(rest)
		if !ok {
			d.pendingBuffer = append(d.pendingBuffer, rest...)
			return nil
		}

		var payload []byte
		if len(d.pendingBuffer) == 0 {
			payload = rest[:cut]
		} else {
			payload = append(d.pendingBuffer, rest[:cut]...)
			d.pendingBuffer = nil
		}
		if err := d.emitChunk(payload); err != nil {
			return err
		}

		rest = rest[cut:]
		if len(rest) == 0 {
			return nil
		}
	}
}

func (d *Driver) emitChunk(payload []byte) error {
	id, err := d.objectDigest.Sum(payload)
	if err != nil {
		return errors.Wrap(err, "compute chunk id")
	}
	if err := d.stores.Put(context.Background(), id, payload); err != nil {
		return errors.Wrap(err, "submit chunk")
	}
	if d.indexWriter != nil {
		if err := d.indexWriter.WriteObject(id, uint64(len(payload))); err != nil {
			return errors.Wrap(err, "append index record")
		}
	}
	return nil
}

func (d *Driver) finishEncode() error {
	if d.tempArchivePath != "" {
		if err := os.Rename(d.tempArchivePath, d.archivePath); err != nil {
			return errors.Wrap(err, "rename archive into place")
		}
		d.tempArchivePath = ""
	}

	if len(d.pendingBuffer) > 0 {
		tail := d.pendingBuffer
		d.pendingBuffer = nil
		if err := d.emitChunk(tail); err != nil {
			return err
		}
	}

	if d.indexWriter != nil {
		sum, err := d.archiveDigest.Sum()
		if err != nil {
			return errors.Wrap(err, "sum archive digest")
		}
		if err := d.indexWriter.SetDigest(sum); err != nil {
			return errors.Wrap(err, "write index digest")
		}
		if err := d.indexWriter.WriteEOF(); err != nil {
			return errors.Wrap(err, "write index eof")
		}
		if err := d.indexWriter.Close(); err != nil {
			return errors.Wrap(err, "close index")
		}
		d.indexWriter = nil
	}
	return nil
}

func (d *Driver) stepDecode() (StepResult, error) {
	for {
		res, err := d.decoder.Step()
		if err != nil {
			return 0, errors.Wrap(err, "decoder step")
		}

		switch res {
		case archive.Request:
			if err := d.serviceRequest(); err != nil {
				return 0, err
			}
			continue

		case archive.Finished:
			if err := d.finishDecode(); err != nil {
				return 0, err
			}
			d.eof = true
			return StepFinished, nil

		case archive.NextFile:
			d.currentPath = d.decoder.CurrentPath()
			d.currentMode = d.decoder.CurrentMode()
			return StepNextFile, nil

		case archive.Step, archive.Payload:
			d.currentPath = d.decoder.CurrentPath()
			d.currentMode = d.decoder.CurrentMode()
			return StepProgress, nil

		default:
			return 0, errors.Errorf("decoder: unexpected step result %v", res)
		}
	}
}

// serviceRequest resolves one REQUEST from the decoder: either the next
// indexed chunk (fetched through the store fan-in) or, absent an index,
// the raw archive descriptor handed over wholesale.
func (d *Driver) serviceRequest() error {
	if d.indexReader != nil {
		id, size, err := d.indexReader.ReadObject()
		if err == io.EOF {
			return d.decoder.PutEOF()
		}
		if err != nil {
			return errors.Wrap(err, "read index record")
		}

		data, err := d.stores.Get(context.Background(), id)
		if err != nil {
			return errors.Wrap(err, "resolve chunk from store")
		}
		if uint64(len(data)) != size {
			return ErrBadMessage
		}

		// The digest ingests these bytes before they are handed off to
		// the decoder (PutData takes its own copy), so every chunk is
		// absorbed exactly once and in index order.
		if err := d.archiveDigest.Write(data); err != nil {
			return errors.Wrap(err, "absorb archive digest")
		}
		return d.decoder.PutData(data)
	}

	if d.archiveFD != nil {
		fd := d.archiveFD
		d.archiveFD = nil
		return d.decoder.PutDataFD(fd)
	}

	return ErrNoSuchBackend
}

func (d *Driver) finishDecode() error {
	if d.tempBasePath != "" {
		if err := os.Rename(d.tempBasePath, d.basePath); err != nil {
			return errors.Wrap(err, "rename base into place")
		}
		d.tempBasePath = ""
	}
	return nil
}
