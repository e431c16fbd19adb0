// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updater

import "errors"

// The closed error taxonomy spec.md §7 defines. Update always returns one
// of these (wrapped with additional context via %w), except for success
// (nil).
var (
	ErrNoImage       = errors.New("no target image supplied")
	ErrSystemImage   = errors.New("could not read current flash")
	ErrInvalidImage  = errors.New("target image fails structural checks")
	ErrSetCookies    = errors.New("target written but try-cookies failed")
	ErrWriteFirmware = errors.New("flash write failed")
	ErrPlatform      = errors.New("platform mismatch")
	ErrTarget        = errors.New("could not pick an RW slot")
	ErrRootKey       = errors.New("target not signed by current root key")
	ErrTPMRollback   = errors.New("anti-rollback check failed")
	ErrUnknown       = errors.New("unknown updater error")
)

// errNeedRoUpdate is the internal-only signal spec.md §4.G/§9 describes:
// Try-RW saw an RO_SECTION diff with write protect disabled. Only Update
// itself observes and recovers from it, by falling back to a Full update;
// it must never escape to a caller.
var errNeedRoUpdate = errors.New("updater: RO update needed, falling back to full update")
