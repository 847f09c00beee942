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
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/cyphar/casync-go/driver"
)

var decodeCommand = cli.Command{
	Name:  "decode",
	Usage: "reconstruct a filesystem tree, regular file, or block device from an index and chunk stores",
	ArgsUsage: `--base <path> --base-mode <directory|regular|block> --index <path> [--seed <dir>]...

Reads --index, resolving each chunk from the seed stores (consulted in
the order given) and materializing the result at --base.`,

	Flags: []cli.Flag{
		cli.StringFlag{Name: "base", Usage: "path to materialize the tree, file, or device at"},
		cli.StringFlag{Name: "base-mode", Value: "directory", Usage: "kind of base: directory, regular, or block"},
		cli.StringFlag{Name: "index", Usage: "path to the index to read"},
		cli.StringFlag{Name: "archive", Usage: "path to a raw archive stream to decode directly, instead of --index"},
		cli.BoolFlag{Name: "compress", Usage: "the --archive input is gzipped"},
		cli.StringSliceFlag{Name: "seed", Usage: "directory backing a read-only seed chunk store, lowest priority last"},
	},

	Before: func(ctx *cli.Context) error {
		if ctx.String("base") == "" {
			return errors.Errorf("--base is required")
		}
		if ctx.String("index") == "" && ctx.String("archive") == "" {
			return errors.Errorf("one of --index or --archive is required")
		}
		return nil
	},

	Action: runDecode,
}

func parseBaseMode(s string) (driver.BaseMode, error) {
	switch s {
	case "directory":
		return driver.BaseModeDirectory, nil
	case "regular":
		return driver.BaseModeRegular, nil
	case "block":
		return driver.BaseModeBlockDevice, nil
	default:
		return 0, errors.Errorf("unknown --base-mode %q", s)
	}
}

func runDecode(ctx *cli.Context) error {
	d := driver.New(driver.Decode)
	defer d.Close()

	mode, err := parseBaseMode(ctx.String("base-mode"))
	if err != nil {
		return err
	}
	if err := d.SetBaseMode(mode); err != nil {
		return errors.Wrap(err, "set base-mode")
	}
	if err := d.SetBasePath(ctx.String("base")); err != nil {
		return errors.Wrap(err, "set base")
	}

	for _, seed := range ctx.StringSlice("seed") {
		if err := d.AddSeedStoreLocal(seed); err != nil {
			return errors.Wrapf(err, "add seed %s", seed)
		}
	}

	var closeArchive func() error
	switch {
	case ctx.String("index") != "":
		if err := d.SetIndexPath(ctx.String("index")); err != nil {
			return errors.Wrap(err, "set index")
		}
	case ctx.Bool("compress"):
		fh, wait, err := newCompressedReader(ctx.String("archive"))
		if err != nil {
			return err
		}
		if err := d.SetArchiveFD(fh); err != nil {
			return errors.Wrap(err, "set archive")
		}
		closeArchive = wait
	default:
		if err := d.SetArchivePath(ctx.String("archive")); err != nil {
			return errors.Wrap(err, "set archive")
		}
	}

	for {
		res, err := d.Step()
		if err != nil {
			return errors.Wrap(err, "decode step")
		}
		if res == driver.StepNextFile {
			log.WithField("path", d.CurrentPath()).Debug("decoding entry")
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
	log.WithField("digest", digest.String()).Info("decode complete")
	return nil
}
