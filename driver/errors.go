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
	"github.com/pkg/errors"

	"github.com/cyphar/casync-go/store"
)

// Sentinel error kinds the driver can return from a setter or from Step.
// Anything not listed here (exists, no-space, io, out-of-memory, ...) is a
// pass-through OS or collaborator error, wrapped with context via
// github.com/pkg/errors rather than hidden behind a sentinel.
var (
	// ErrBadArgument indicates null or malformed input to a setter.
	ErrBadArgument = errors.New("driver: bad argument")
	// ErrBusy indicates the slot (or a mutually exclusive slot in the same
	// group) is already set, or GetDigest was called before EOF.
	ErrBusy = errors.New("driver: busy")
	// ErrNotSupportedInDirection indicates a setter that only applies to
	// the other direction, e.g. SetMakePermMode during decode.
	ErrNotSupportedInDirection = errors.New("driver: not supported in this direction")
	// ErrNoSuchBackend indicates Step was called without a required
	// collaborator, e.g. decode with neither an index nor an archive source.
	ErrNoSuchBackend = errors.New("driver: no such backend")
	// ErrBrokenPipeline indicates Step was called after EOF latched.
	ErrBrokenPipeline = errors.New("driver: broken pipeline")
	// ErrBadMessage indicates an index-declared object size disagreed with
	// the size actually retrieved from the store.
	ErrBadMessage = errors.New("driver: bad message")

	// ErrNotFound indicates store fan-in was exhausted without a hit.
	ErrNotFound = store.ErrNotFound
	// ErrReadOnly indicates Put was called without a writable store
	// configured.
	ErrReadOnly = store.ErrReadOnly
)
