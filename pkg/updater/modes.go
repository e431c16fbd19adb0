// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updater

import (
	"bytes"
	"context"
	"fmt"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/cbfs"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/compat"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/log"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/preserve"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/quirks"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/sysprops"
)

// crosAllowAutoUpdateTag is the CBFS file Try-RW consults on both sides of an
// RW_LEGACY diff before deciding whether it's safe to auto-update it, per
// spec.md §4.G.
const crosAllowAutoUpdateTag = "cros_allow_auto_update"

// updateLegacy implements spec.md §4.G's Legacy mode: bypass every
// compatibility and anti-rollback check and write only RW_LEGACY.
func (cfg *Config) updateLegacy(ctx context.Context) error {
	if !cfg.Target.HasSection(image.SectionRWLegacy) {
		return fmt.Errorf("%w: target has no RW_LEGACY section", ErrInvalidImage)
	}
	if err := cfg.writeSection(ctx, image.SectionRWLegacy); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFirmware, err)
	}
	return nil
}

// updateFull implements spec.md §4.G's Full mode: preserve_images from
// current into target, anti-rollback check, then write the whole image and
// any supplied EC/PD images. Deliberately performs no root-key check — a
// Full update is how a device recovers from exactly the kind of corruption
// that check exists to catch.
func (cfg *Config) updateFull(ctx context.Context) error {
	qctx := &quirks.Context{Target: cfg.Target}
	if err := preserve.Images(cfg.Quirks, qctx, cfg.Current, cfg.Target); err != nil {
		log.Warnf("updater: full update: %v", err)
	}

	if err := cfg.checkTPMRollback(); err != nil {
		return err
	}

	if err := cfg.writeWhole(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFirmware, err)
	}

	if cfg.EC != nil {
		if err := cfg.writeAuxImage(ctx, cfg.EC); err != nil {
			return fmt.Errorf("%w: writing EC image: %v", ErrWriteFirmware, err)
		}
	}
	if cfg.PD != nil {
		if err := cfg.writeAuxImage(ctx, cfg.PD); err != nil {
			return fmt.Errorf("%w: writing PD image: %v", ErrWriteFirmware, err)
		}
	}
	return nil
}

// updateRWOnly implements spec.md §4.G's RW-only mode: root-key and
// anti-rollback checks, then write both RW firmware slots plus RW_SHARED and
// RW_LEGACY.
func (cfg *Config) updateRWOnly(ctx context.Context) error {
	if err := cfg.checkRootKey(); err != nil {
		return err
	}
	if err := cfg.checkTPMRollback(); err != nil {
		return err
	}

	for _, section := range []string{image.SectionRWSectionA, image.SectionRWSectionB, image.SectionRWShared, image.SectionRWLegacy} {
		if !cfg.Target.HasSection(section) {
			continue
		}
		if err := cfg.writeSection(ctx, section); err != nil {
			return fmt.Errorf("%w: writing %s: %v", ErrWriteFirmware, section, err)
		}
	}
	return nil
}

// updateTryRW implements spec.md §4.G's Try-RW mode: the non-disruptive path
// that prefers rebooting into a freshly-written inactive RW slot over a
// disruptive RW-only/Full rewrite. Returns errNeedRoUpdate if it discovers
// the RO_SECTION itself differs and write protect is disabled — Update then
// falls back to a Full update.
func (cfg *Config) updateTryRW(ctx context.Context, wp bool) error {
	if !wp {
		if roDiffers(cfg.Current, cfg.Target) {
			return errNeedRoUpdate
		}
	}

	if err := preserve.GBB(cfg.Current, cfg.Target); err != nil {
		log.Warnf("updater: try-rw: %v", err)
	}

	if err := cfg.checkRootKey(); err != nil {
		return err
	}
	if err := cfg.checkTPMRollback(); err != nil {
		return err
	}

	mainfwAct, err := cfg.Props.Get(sysprops.MainFWAct)
	if err != nil {
		return fmt.Errorf("%w: reading mainfw_act: %v", ErrTarget, err)
	}
	targetSection := image.SectionRWSectionB
	if mainfwAct == sysprops.ActB {
		targetSection = image.SectionRWSectionA
	}
	if !cfg.Target.HasSection(targetSection) {
		return fmt.Errorf("%w: target has no %s", ErrTarget, targetSection)
	}

	vboot2, err := cfg.Props.Get(sysprops.FwVboot2)
	if err != nil {
		return fmt.Errorf("%w: reading fw_vboot2: %v", ErrSetCookies, err)
	}

	if !cfg.ForceUpdate && !slotDiffers(cfg.Current, cfg.Target, targetSection) {
		log.Infof("updater: try-rw: %s already matches target, nothing to do", targetSection)
		if vboot2 == 0 {
			if err := cfg.clearTries(ctx); err != nil {
				return fmt.Errorf("%w: clearing fwb_tries: %v", ErrSetCookies, err)
			}
		}
		return nil
	}

	if err := cfg.writeSection(ctx, targetSection); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFirmware, err)
	}

	if err := cfg.maybeUpdateLegacy(ctx); err != nil {
		log.Warnf("updater: try-rw: RW_LEGACY: %v", err)
	}

	hasEC := cfg.EC != nil
	ck := computeCookies(targetSection, hasEC)
	if err := cfg.setCookies(ctx, ck, vboot2 != 0); err != nil {
		return fmt.Errorf("%w: %v", ErrSetCookies, err)
	}
	return nil
}

// slotDiffers reports whether target's chosen RW section differs from
// current's section of the same name, the no-op trigger spec.md §4.G
// describes ("if no differences in target slot ... skip write"). Missing
// sections on either side are treated as a difference, matching roDiffers.
func slotDiffers(current, target *image.Image, section string) bool {
	curSec, err := current.Section(section)
	if err != nil {
		return true
	}
	tgtSec, err := target.Section(section)
	if err != nil {
		return true
	}
	return !sectionsEqual(curSec.Bytes(), tgtSec.Bytes())
}

// maybeUpdateLegacy writes RW_LEGACY during a Try-RW update only if both
// sides tag cros_allow_auto_update, checked independently per side rather
// than the has_from/has_to conflation the distilled spec's Open Questions
// section flags as a latent bug in the original implementation.
func (cfg *Config) maybeUpdateLegacy(ctx context.Context) error {
	if !cfg.Target.HasSection(image.SectionRWLegacy) || !cfg.Current.HasSection(image.SectionRWLegacy) {
		return nil
	}
	currentSec, err := cfg.Current.Section(image.SectionRWLegacy)
	if err != nil {
		return err
	}
	targetSec, err := cfg.Target.Section(image.SectionRWLegacy)
	if err != nil {
		return err
	}
	if !cbfs.HasTag(currentSec.Bytes(), crosAllowAutoUpdateTag) || !cbfs.HasTag(targetSec.Bytes(), crosAllowAutoUpdateTag) {
		log.Debugf("updater: try-rw: %s missing on one side, skipping RW_LEGACY update", crosAllowAutoUpdateTag)
		return nil
	}
	if sectionsEqual(currentSec.Bytes(), targetSec.Bytes()) {
		return nil
	}
	return cfg.writeSection(ctx, image.SectionRWLegacy)
}

func (cfg *Config) checkRootKey() error {
	if err := compat.RootKey(cfg.Current, cfg.Target, cfg.Verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrRootKey, err)
	}
	return nil
}

func (cfg *Config) checkTPMRollback() error {
	tpmFwver, err := cfg.Props.Get(sysprops.TPMFwver)
	if err != nil {
		return fmt.Errorf("%w: reading tpm_fwver: %v", ErrTPMRollback, err)
	}
	warning, err := compat.TPMAntiRollback(cfg.Target, tpmFwver, cfg.ForceUpdate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTPMRollback, err)
	}
	if warning != "" {
		log.Warnf("updater: %s", warning)
	}
	return nil
}

// roDiffers reports whether current and target disagree anywhere in
// RO_SECTION, the trigger spec.md §4.G uses to decide Try-RW cannot proceed
// without write protect disabled.
func roDiffers(current, target *image.Image) bool {
	curSec, err := current.Section(image.SectionROSection)
	if err != nil {
		return true
	}
	tgtSec, err := target.Section(image.SectionROSection)
	if err != nil {
		return true
	}
	return !sectionsEqual(curSec.Bytes(), tgtSec.Bytes())
}

func sectionsEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
