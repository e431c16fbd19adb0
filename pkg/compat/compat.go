// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package compat implements the three compatibility gates spec.md §4.F
// describes: platform prefix match, root-key match, and TPM anti-rollback.
package compat

import (
	"fmt"
	"strings"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/vboot"
)

// Platform requires that the substring of each image's RO firmware ID up to
// and including the first '.' is identical, per spec.md §4.F. Absence of a
// '.' in either version string is an error.
func Platform(from, to *image.Image) error {
	fromPrefix, ok := prefix(from.ROVersion)
	if !ok {
		return fmt.Errorf("compat: source RO firmware id %q has no platform prefix", from.ROVersion)
	}
	toPrefix, ok := prefix(to.ROVersion)
	if !ok {
		return fmt.Errorf("compat: target RO firmware id %q has no platform prefix", to.ROVersion)
	}
	if fromPrefix != toPrefix {
		return fmt.Errorf("compat: platform is not compatible: %q vs %q", fromPrefix, toPrefix)
	}
	return nil
}

func prefix(v string) (string, bool) {
	i := strings.IndexByte(v, '.')
	if i < 0 {
		return "", false
	}
	return v[:i+1], true
}

// PlatformPrefix returns the substring of v up to and including its first
// '.', or v unchanged if it has none. Exposed for callers (the CLI's
// quirks-default derivation) that need the same prefix Platform compares,
// without Platform's "must have a dot" strictness.
func PlatformPrefix(v string) string {
	if p, ok := prefix(v); ok {
		return p
	}
	return v
}

// RootKey verifies to's VBLOCK_A keyblock against from's GBB root key, per
// spec.md §4.F. On failure it distinguishes "same key, RW likely corrupt"
// from "different key" using each side's root-key SHA1 fingerprint.
func RootKey(from, to *image.Image, verifier vboot.Verifier) error {
	fromGBBSec, err := from.Section(image.SectionGBB)
	if err != nil {
		return fmt.Errorf("compat: root key: source GBB: %w", err)
	}
	fromGBB, err := vboot.FindGBB(fromGBBSec.Bytes())
	if err != nil {
		return fmt.Errorf("compat: root key: parsing source GBB: %w", err)
	}
	rootKey, err := fromGBB.RootKey()
	if err != nil {
		return fmt.Errorf("compat: root key: source root key: %w", err)
	}

	vblockSec, err := to.Section(image.SectionVBlockA)
	if err != nil {
		return fmt.Errorf("compat: root key: target VBLOCK_A: %w", err)
	}
	kb, err := vboot.GetKeyblock(vblockSec.Bytes())
	if err != nil {
		return fmt.Errorf("compat: root key: parsing target keyblock: %w", err)
	}

	if err := vboot.VerifyKeyblock(kb, rootKey, verifier); err != nil {
		diag := diagnoseRootKeyMismatch(from, to, rootKey)
		return fmt.Errorf("compat: target not signed by current root key: %w (%s)", err, diag)
	}
	return nil
}

// diagnoseRootKeyMismatch compares from's root-key fingerprint against to's,
// if extractable, distinguishing "same key, RW likely corrupt" from
// "different key" for the operator, per spec.md §4.F.
func diagnoseRootKeyMismatch(from, to *image.Image, fromRootKey *vboot.PackedKey) string {
	fromFP := vboot.RootKeyFingerprint(fromRootKey)

	toGBBSec, err := to.Section(image.SectionGBB)
	if err != nil {
		return fmt.Sprintf("source root key %s; target has no GBB to compare", fromFP)
	}
	toGBB, err := vboot.FindGBB(toGBBSec.Bytes())
	if err != nil {
		return fmt.Sprintf("source root key %s; target GBB invalid", fromFP)
	}
	toRootKey, err := toGBB.RootKey()
	if err != nil {
		return fmt.Sprintf("source root key %s; target root key unreadable", fromFP)
	}
	toFP := vboot.RootKeyFingerprint(toRootKey)
	if toFP == fromFP {
		return fmt.Sprintf("same root key %s; RW likely corrupt", fromFP)
	}
	return fmt.Sprintf("different root key: source %s, target %s", fromFP, toFP)
}

// TPMAntiRollback implements spec.md §4.F: extract (data_key_version,
// firmware_version) from to's VBLOCK_A, require tpmFwver >= 0, split it into
// (tpm_dkv, tpm_fv), and require tpm_dkv <= dkv_img and tpm_fv <= fv_img. If
// force is set, failures are downgraded to a returned *warning* (nil error,
// caller logs) rather than rejecting the update.
func TPMAntiRollback(to *image.Image, tpmFwver int, force bool) (warning string, err error) {
	vblockSec, err := to.Section(image.SectionVBlockA)
	if err != nil {
		return "", fmt.Errorf("compat: tpm rollback: target VBLOCK_A: %w", err)
	}
	dkvImg, fvImg, err := vboot.KeyVersions(vblockSec.Bytes())
	if err != nil {
		return "", fmt.Errorf("compat: tpm rollback: parsing target keyblock: %w", err)
	}

	if tpmFwver < 0 {
		msg := fmt.Sprintf("Invalid tpm_fwver: %d", tpmFwver)
		if force {
			return msg + " (forced)", nil
		}
		return "", fmt.Errorf("%s", msg)
	}

	tpmDKV := uint32(tpmFwver>>16) & 0xFFFF
	tpmFV := uint32(tpmFwver) & 0xFFFF

	if tpmDKV > dkvImg {
		msg := fmt.Sprintf("Data key version rollback detected (%d->%d)", tpmDKV, dkvImg)
		if force {
			return msg + " (forced)", nil
		}
		return "", fmt.Errorf("%s", msg)
	}
	if tpmFV > fvImg {
		msg := fmt.Sprintf("Firmware version rollback detected (%d->%d)", tpmFV, fvImg)
		if force {
			return msg + " (forced)", nil
		}
		return "", fmt.Errorf("%s", msg)
	}
	return "", nil
}
