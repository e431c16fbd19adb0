// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package preserve copies designated sections and fields byte-exactly from
// the current image into the target image before it is written, per
// spec.md §4.E: section preservation, GBB flags+HWID preservation, and
// Management Engine lock handling.
//
// Grounded on the teacher's pkg/cbfs Remove (in-place byte-range surgery on
// an owned buffer, warning rather than failing on a short region) and
// combined with go-multierror the way the pack's fiano fit metadata code
// accumulates non-fatal parse issues.
package preserve

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/log"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/quirks"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/vboot"
)

// Section copies min(from.size, to.size) bytes of the named section from
// from into to, at to's offset, per spec.md §4.E. If from's section is
// larger, to's is truncated (and a warning logged); if smaller, to's tail is
// left untouched.
func Section(from, to *image.Image, name string) error {
	fromSec, err := from.Section(name)
	if err != nil {
		return fmt.Errorf("preserve: source image missing section %q: %w", name, err)
	}
	toSec, err := to.Section(name)
	if err != nil {
		return fmt.Errorf("preserve: destination image missing section %q: %w", name, err)
	}

	n := fromSec.Size()
	if toSec.Size() < n {
		log.Warnf("preserve: section %q source is %d bytes, destination only %d; truncating", name, fromSec.Size(), toSec.Size())
		n = toSec.Size()
	}
	copy(toSec.Bytes(), fromSec.Bytes()[:n])
	return nil
}

// GBB preserves the 32-bit GBB flags and HWID string from from into to, per
// spec.md §4.E preserve_gbb. Fails if either GBB is invalid, or if the
// source HWID does not fit in the destination's HWID field.
func GBB(from, to *image.Image) error {
	fromSec, err := from.Section(image.SectionGBB)
	if err != nil {
		return fmt.Errorf("preserve: GBB: source: %w", err)
	}
	toSec, err := to.Section(image.SectionGBB)
	if err != nil {
		return fmt.Errorf("preserve: GBB: destination: %w", err)
	}

	fromGBB, err := vboot.FindGBB(fromSec.Bytes())
	if err != nil {
		return fmt.Errorf("preserve: GBB: parsing source: %w", err)
	}
	toGBB, err := vboot.FindGBB(toSec.Bytes())
	if err != nil {
		return fmt.Errorf("preserve: GBB: parsing destination: %w", err)
	}

	toGBB.SetFlags(fromGBB.Flags())

	hwid, err := fromGBB.HWID()
	if err != nil {
		return fmt.Errorf("preserve: GBB: reading source HWID: %w", err)
	}
	if err := toGBB.SetHWID(hwid); err != nil {
		return fmt.Errorf("preserve: GBB: %w", err)
	}
	return nil
}

// ManagementEngine implements spec.md §4.E preserve_management_engine: if
// the source has no SI_ME, it is skipped. If the source's SI_ME is entirely
// erased (0xFF), the ME is considered locked and SI_DESC is preserved to
// protect the read-only descriptor region; otherwise unlock_me_for_update is
// applied if the quirk is set.
func ManagementEngine(registry *quirks.Registry, qctx *quirks.Context, from, to *image.Image) error {
	fromSec, err := from.Section(image.SectionSIME)
	if err != nil {
		log.Debugf("preserve: no SI_ME in source image, skipping Management Engine handling")
		return nil
	}

	if isErased(fromSec.Bytes()) {
		log.Infof("preserve: SI_ME is flash-erased (locked); preserving SI_DESC")
		return Section(from, to, image.SectionSIDesc)
	}

	return registry.TryApply(quirks.UnlockMEForUpdate, qctx)
}

func isErased(b []byte) bool {
	return bytes.Count(b, []byte{0xFF}) == len(b)
}

// legacyROFSG is the legacy section alias spec.md §3 preserves when present.
const legacyROFSG = image.SectionLegacyRoFSG

// optionalSections is the fixed-order list spec.md §4.E preserve_images
// applies after GBB, ME, RO_VPD, RW_VPD — each copied only if present in the
// source.
var optionalSections = []string{
	image.SectionROPreserve,
	image.SectionRWPreserve,
	image.SectionRWNVRAM,
	image.SectionRWELog,
	image.SectionSMMStore,
	legacyROFSG,
}

// Images runs the full preserve_images sequence from spec.md §4.E: GBB, ME,
// RO_VPD, RW_VPD, then each of the optional preserve sections that exists in
// the source. Failures accumulate into the returned *multierror.Error (never
// nil-checked individually); none aborts the sequence.
func Images(registry *quirks.Registry, qctx *quirks.Context, from, to *image.Image) error {
	var errs *multierror.Error

	if err := GBB(from, to); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := ManagementEngine(registry, qctx, from, to); err != nil {
		errs = multierror.Append(errs, err)
	}
	if from.HasSection(image.SectionROVPD) {
		if err := Section(from, to, image.SectionROVPD); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if from.HasSection(image.SectionRWVPD) {
		if err := Section(from, to, image.SectionRWVPD); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, name := range optionalSections {
		if !from.HasSection(name) {
			continue
		}
		if err := Section(from, to, name); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if errs != nil {
		log.Warnf("preserve: %d non-fatal preservation failure(s): %v", errs.Len(), errs)
		return errs.ErrorOrNil()
	}
	return nil
}
