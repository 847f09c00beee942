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

// Package chunker implements the content-defined splitter collaborator
// described by the synchronization driver: "scan(state, bytes) -> k |
// NONE"). Boundaries are chosen by the content of the stream, not by a
// fixed stride, so that inserting or deleting bytes at one point in a
// stream only perturbs the chunks adjacent to the edit.
package chunker

import (
	"github.com/kch42/buzhash"
	"github.com/pkg/errors"
)

const (
	// DefaultWindow is the sliding window width (in bytes) the rolling hash
	// is computed over.
	DefaultWindow = 48

	// DefaultMin, DefaultAvg and DefaultMax are the default chunk-size
	// knobs, matching casync's own --chunk-size defaults of a 4x spread
	// around the average.
	DefaultMin = 16 * 1024
	DefaultAvg = 64 * 1024
	DefaultMax = 256 * 1024
)

// Chunker holds the rolling-hash state of a single content-defined split
// pass. It is not safe for concurrent use; the driver owns exactly one
// instance per encode.
type Chunker struct {
	roll   *buzhash.BuzHash
	window uint32

	min, avg, max uint64
	mask          uint64

	// pos is the number of bytes consumed since the last cut (or since
	// construction). It persists across Scan calls, since a boundary may
	// fall outside the bytes passed to any single call.
	pos uint64
}

// New constructs a Chunker with the given minimum, average, and maximum
// chunk sizes. avg must be a power of two; min must be < avg < max.
func New(min, avg, max uint64) (*Chunker, error) {
	if min == 0 || min >= avg || avg >= max {
		return nil, errors.Errorf("chunker: sizes must satisfy 0 < min(%d) < avg(%d) < max(%d)", min, avg, max)
	}
	if avg&(avg-1) != 0 {
		return nil, errors.Errorf("chunker: avg chunk size %d must be a power of two", avg)
	}
	return &Chunker{
		roll:   buzhash.NewBuzHash(DefaultWindow),
		window: DefaultWindow,
		min:    min,
		avg:    avg,
		max:    max,
		mask:   avg - 1,
	}, nil
}

// NewDefault constructs a Chunker using DefaultMin/DefaultAvg/DefaultMax.
func NewDefault() *Chunker {
	c, err := New(DefaultMin, DefaultAvg, DefaultMax)
	if err != nil {
		// The defaults are compile-time constants known to satisfy New's
		// invariants.
		panic(err)
	}
	return c
}

// boundaryNone is the sentinel cut position signalling "no boundary found
// in this input; keep buffering" ("k | NONE").
const boundaryNone = -1

// Scan implements the chunker contract: it is fed the next slice of input
// and returns a cut position k within data such that the bytes buffered by
// the caller plus data[:k] form one content-defined chunk, or reports that
// no boundary was found in data at all. Scan is a deterministic function of
// everything it has seen since the last returned cut: identical byte
// streams always produce identical cut sequences, regardless of how the
// stream is split across calls.
func (c *Chunker) Scan(data []byte) (cut int, ok bool) {
	for i, b := range data {
		h := c.roll.HashByte(b)
		c.pos++

		switch {
		case c.pos >= c.max:
			// Force a cut so no chunk grows unboundedly on incompressible,
			// boundary-free input.
			c.pos = 0
			return i + 1, true
		case c.pos >= c.min && uint64(h)&c.mask == 0:
			c.pos = 0
			return i + 1, true
		}
	}
	return boundaryNone, false
}
