// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updater

import (
	"context"
	"fmt"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/log"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/programmer"
)

// CookieWriter sets the vboot "try-next" cookies that tell the next boot
// which RW slot to attempt, per spec.md §4.G. Real hardware persists these
// in nvram (crossystem); emulation mode never calls a CookieWriter at all
// (Config.setCookies short-circuits on EmulatePath).
type CookieWriter interface {
	// SetTryNext records which slot ("A" or "B") to try next. vboot2 only.
	SetTryNext(ctx context.Context, slot string) error
	// SetTryCount records how many boots to try the new slot before
	// falling back.
	SetTryCount(ctx context.Context, n int) error
	// ClearTries clears the vboot1 fwb_tries counter.
	ClearTries(ctx context.Context) error
}

// CrossystemCookieWriter sets try-cookies via the crossystem tool, using
// the same argv-only Runner discipline pkg/programmer's FlashromProgrammer
// uses, per spec.md §9.
type CrossystemCookieWriter struct {
	Runner programmer.Runner
}

// SetTryNext implements CookieWriter.
func (c CrossystemCookieWriter) SetTryNext(ctx context.Context, slot string) error {
	_, _, err := c.Runner.Run(ctx, "crossystem", fmt.Sprintf("fw_try_next=%s", slot))
	return err
}

// SetTryCount implements CookieWriter.
func (c CrossystemCookieWriter) SetTryCount(ctx context.Context, n int) error {
	_, _, err := c.Runner.Run(ctx, "crossystem", fmt.Sprintf("fw_try_count=%d", n))
	return err
}

// ClearTries implements CookieWriter.
func (c CrossystemCookieWriter) ClearTries(ctx context.Context) error {
	_, _, err := c.Runner.Run(ctx, "crossystem", "fwb_tries=0")
	return err
}

// cookies bundles the values spec.md §4.G's try-cookie computation derives.
type cookies struct {
	tryNextSlot string
	tryCount    int
}

// computeCookies implements spec.md §4.G: tries = 6 + (ec_image ? 2 : 0);
// translate the target section name to its slot letter.
func computeCookies(targetSection string, hasEC bool) cookies {
	tries := 6
	if hasEC {
		tries += 2
	}
	slot := "A"
	if targetSection == image.SectionRWSectionB {
		slot = "B"
	}
	return cookies{tryNextSlot: slot, tryCount: tries}
}

// setCookies applies ck, or — in emulation mode — logs the cookie update
// that would have been made and returns success without touching anything,
// per spec.md §4.G.
func (cfg *Config) setCookies(ctx context.Context, ck cookies, vboot2 bool) error {
	if cfg.EmulatePath != "" {
		log.Infof("emulate: would set fw_try_count=%d%s", ck.tryCount, nextSlotSuffix(vboot2, ck.tryNextSlot))
		return nil
	}
	if cfg.Cookies == nil {
		return fmt.Errorf("updater: no cookie writer configured")
	}
	if vboot2 {
		if err := cfg.Cookies.SetTryNext(ctx, ck.tryNextSlot); err != nil {
			return err
		}
	}
	return cfg.Cookies.SetTryCount(ctx, ck.tryCount)
}

// clearTries clears the vboot1 fwb_tries counter, or logs the intent in
// emulation mode.
func (cfg *Config) clearTries(ctx context.Context) error {
	if cfg.EmulatePath != "" {
		log.Infof("emulate: would clear fwb_tries")
		return nil
	}
	if cfg.Cookies == nil {
		return nil
	}
	return cfg.Cookies.ClearTries(ctx)
}

func nextSlotSuffix(vboot2 bool, slot string) string {
	if !vboot2 {
		return ""
	}
	return fmt.Sprintf(" fw_try_next=%s", slot)
}
