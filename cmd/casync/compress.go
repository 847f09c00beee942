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

package main

import (
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// compressedWriter wires --compress archive output through gzip: the
// driver is handed the write end of a pipe, and a background goroutine
// gzips everything written there into the real file on disk. close must
// be called after the driver has finished writing to flush and join the
// goroutine.
type compressedWriter struct {
	pipeWrite *os.File
	done      chan error
}

func newCompressedWriter(path string) (*os.File, *compressedWriter, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "create compressed archive %s", path)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		fh.Close()
		return nil, nil, errors.Wrap(err, "create compression pipe")
	}

	done := make(chan error, 1)
	go func() {
		gz := gzip.NewWriter(fh)
		_, copyErr := io.Copy(gz, pr)
		closeErr := gz.Close()
		fhErr := fh.Close()
		pr.Close()
		switch {
		case copyErr != nil:
			done <- errors.Wrap(copyErr, "gzip archive")
		case closeErr != nil:
			done <- errors.Wrap(closeErr, "finish gzip stream")
		default:
			done <- errors.Wrap(fhErr, "close compressed archive")
		}
	}()

	return pw, &compressedWriter{pipeWrite: pw, done: done}, nil
}

func (c *compressedWriter) Close() error {
	if err := c.pipeWrite.Close(); err != nil {
		return errors.Wrap(err, "close compression pipe")
	}
	return <-c.done
}

// newCompressedReader wires --compress archive input through gzip: a
// background goroutine ungzips the real file into the write end of a
// pipe, and the driver is handed the read end.
func newCompressedReader(path string) (*os.File, func() error, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open compressed archive %s", path)
	}

	gz, err := gzip.NewReader(fh)
	if err != nil {
		fh.Close()
		return nil, nil, errors.Wrap(err, "open gzip stream")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		gz.Close()
		fh.Close()
		return nil, nil, errors.Wrap(err, "create decompression pipe")
	}

	done := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(pw, gz)
		closeErr := pw.Close()
		gz.Close()
		fh.Close()
		if copyErr != nil {
			done <- errors.Wrap(copyErr, "gunzip archive")
			return
		}
		done <- errors.Wrap(closeErr, "close decompression pipe")
	}()

	return pr, func() error { return <-done }, nil
}
