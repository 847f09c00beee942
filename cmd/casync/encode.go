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
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/cyphar/casync-go/driver"
	"github.com/cyphar/casync-go/internal/chunker"
)

var encodeCommand = cli.Command{
	Name:  "encode",
	Usage: "encode a filesystem tree, regular file, or block device into a chunk store and index",
	ArgsUsage: `--base <path> --store <dir> [--index <path>]

Walks --base (a directory, regular file, or block device) and feeds it
through the chunker into --store, recording the resulting chunk sequence
in --index if given.`,

	Flags: []cli.Flag{
		cli.StringFlag{Name: "base", Usage: "path to the tree, file, or device to encode"},
		cli.StringFlag{Name: "store", Usage: "directory backing the writable chunk store"},
		cli.StringFlag{Name: "index", Usage: "path to write the resulting index to"},
		cli.StringFlag{Name: "archive", Usage: "path to also write the raw encoded archive stream to"},
		cli.UintFlag{Name: "perm-mode", Usage: "permission mask applied to newly created archive files (rw bits only; not applied with --compress)"},
		cli.BoolFlag{Name: "compress", Usage: "gzip the --archive output"},
		cli.Uint64Flag{Name: "chunk-size-min", Usage: "minimum chunk size in bytes (default: chunker.DefaultMin)"},
		cli.Uint64Flag{Name: "chunk-size-avg", Usage: "average chunk size in bytes, must be a power of two (default: chunker.DefaultAvg)"},
		cli.Uint64Flag{Name: "chunk-size-max", Usage: "maximum chunk size in bytes (default: chunker.DefaultMax)"},
	},

	Before: func(ctx *cli.Context) error {
		if ctx.String("base") == "" {
			return errors.Errorf("--base is required")
		}
		if ctx.String("store") == "" && ctx.String("archive") == "" {
			return errors.Errorf("at least one of --store or --archive is required")
		}
		return nil
	},

	Action: runEncode,
}

func runEncode(ctx *cli.Context) error {
	d := driver.New(driver.Encode)
	defer d.Close()

	if err := d.SetBasePath(ctx.String("base")); err != nil {
		return errors.Wrap(err, "set base")
	}
	if store := ctx.String("store"); store != "" {
		if err := d.SetStoreLocal(store); err != nil {
			return errors.Wrap(err, "set store")
		}
	}
	if index := ctx.String("index"); index != "" {
		if err := d.SetIndexPath(index); err != nil {
			return errors.Wrap(err, "set index")
		}
	}
	if mode := ctx.Uint("perm-mode"); mode != 0 {
		if err := d.SetMakePermMode(os.FileMode(mode)); err != nil {
			return errors.Wrap(err, "set perm-mode")
		}
	}
	if ctx.IsSet("chunk-size-min") || ctx.IsSet("chunk-size-avg") || ctx.IsSet("chunk-size-max") {
		min, avg, max := ctx.Uint64("chunk-size-min"), ctx.Uint64("chunk-size-avg"), ctx.Uint64("chunk-size-max")
		if min == 0 {
			min = chunker.DefaultMin
		}
		if avg == 0 {
			avg = chunker.DefaultAvg
		}
		if max == 0 {
			max = chunker.DefaultMax
		}
		if err := d.SetChunkSize(min, avg, max); err != nil {
			return errors.Wrap(err, "set chunk-size")
		}
	}

	var closeArchive func() error
	if archivePath := ctx.String("archive"); archivePath != "" {
		if ctx.Bool("compress") {
			fh, cw, err := newCompressedWriter(archivePath)
			if err != nil {
				return err
			}
			if err := d.SetArchiveFD(fh); err != nil {
				return errors.Wrap(err, "set archive")
			}
			closeArchive = cw.Close
		} else {
			if err := d.SetArchivePath(archivePath); err != nil {
				return errors.Wrap(err, "set archive")
			}
		}
	}

	for {
		res, err := d.Step()
		if err != nil {
			return errors.Wrap(err, "encode step")
		}
		if res == driver.StepNextFile {
			log.WithField("path", d.CurrentPath()).Debug("encoding entry")
		}
		if res == driver.StepFinished {
			break
		}
	}

	if closeArchive != nil {
		if err := closeArchive(); err != nil {
			return err
		}
	}

	digest, err := d.GetDigest()
	if err != nil {
		return errors.Wrap(err, "read final digest")
	}
	log.WithField("digest", digest.String()).Info("encode complete")
	return nil
}
