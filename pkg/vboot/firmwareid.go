// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vboot

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // diagnostic fingerprint only, not a security boundary
	"fmt"
)

// LoadFirmwareVersion treats buf (an RO_FRID/RW_FWID* section) as a
// NUL-padded ASCII firmware identifier and returns the string up to the
// first NUL, per spec.md §4.B.
func LoadFirmwareVersion(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// RootKeyFingerprint returns a SHA1 hex digest of a root key's raw key
// material, used only to produce a human-readable diagnostic distinguishing
// "same key, RW likely corrupt" from "different key" (spec.md §4.F).
func RootKeyFingerprint(key *PackedKey) string {
	sum := sha1.Sum(key.KeyData) //nolint:gosec
	return fmt.Sprintf("%x", sum)
}
