// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updater

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/compat"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/quirks"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/sysprops"
)

// Update runs the top-level update procedure spec.md §4.G describes and
// returns one of the sentinel errors in errors.go (or nil on success).
func Update(ctx context.Context, cfg *Config) error {
	if cfg.Target == nil {
		return fmt.Errorf("%w", ErrNoImage)
	}

	qctx := &quirks.Context{Target: cfg.Target}

	if err := cfg.Quirks.TryApply(quirks.DaisySnowDualModel, qctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatform, err)
	}

	platformVer, _ := cfg.Props.Get(sysprops.PlatformVer)
	qctx.PlatformVer = platformVer
	if err := cfg.Quirks.TryApply(quirks.MinPlatformVersion, qctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatform, err)
	}

	if cfg.Current == nil {
		if err := cfg.loadCurrentFromProgrammer(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrSystemImage, err)
		}
	}

	if err := compat.Platform(cfg.Current, cfg.Target); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatform, err)
	}

	wp, err := cfg.Props.WriteProtect()
	if err != nil {
		return fmt.Errorf("%w: reading write protect: %v", ErrUnknown, err)
	}

	if size, sizeErr := cfg.Programmer.Size(ctx); sizeErr == nil {
		qctx.ProgrammerSize = size
	} else {
		qctx.ProgrammerSize = -1
	}
	if err := cfg.Quirks.TryApply(quirks.EnlargeImage, qctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSystemImage, err)
	}
	if err := cfg.Quirks.TryApply(quirks.EveSMMStore, qctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	switch {
	case cfg.LegacyUpdate:
		return cfg.updateLegacy(ctx)
	case cfg.FactoryUpdate:
		if wp {
			return fmt.Errorf("%w: needs WP disabled", ErrPlatform)
		}
		return cfg.updateFull(ctx)
	case cfg.TryUpdate:
		err := cfg.updateTryRW(ctx, wp)
		if errors.Is(err, errNeedRoUpdate) {
			return cfg.updateFull(ctx)
		}
		return err
	case wp:
		return cfg.updateRWOnly(ctx)
	default:
		return cfg.updateFull(ctx)
	}
}

// loadCurrentFromProgrammer reads the current flash image via cfg.Programmer
// and parses it into cfg.Current, per spec.md §4.G step 4.
func (cfg *Config) loadCurrentFromProgrammer(ctx context.Context) error {
	path, err := cfg.Programmer.Read(ctx)
	if err != nil {
		return err
	}
	// Emulation mode's Read returns the emulation file's own path, not a
	// disposable copy; tracking it for temp-file cleanup would delete the
	// user's emulation state the moment Config.Close runs.
	if path != cfg.EmulatePath {
		cfg.AddTempFile(path)
	}
	img, err := image.LoadFile("", path)
	if err != nil {
		return err
	}
	img.LoadVersions()
	cfg.Current = img
	return nil
}

// writeTempImage writes data to a new temp file (tracked for cleanup) and
// returns its path, for handing to Programmer.Write.
func (cfg *Config) writeTempImage(data []byte) (string, error) {
	f, err := os.CreateTemp("", "futility-write-*.bin")
	if err != nil {
		return "", err
	}
	path := f.Name()
	cfg.AddTempFile(path)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return path, err
	}
	return path, f.Close()
}

// writeSection writes cfg.Target's bytes to the programmer, scoped to the
// named FMAP section (or the whole image if name is "").
func (cfg *Config) writeSection(ctx context.Context, name string) error {
	path, err := cfg.writeTempImage(cfg.Target.Data)
	if err != nil {
		return err
	}
	return cfg.Programmer.Write(ctx, path, name)
}

// writeWhole writes the entire target image.
func (cfg *Config) writeWhole(ctx context.Context) error {
	return cfg.writeSection(ctx, "")
}

// writeAuxImage writes an optional EC or PD image in full, per spec.md
// §4.G's Full mode description ("then optionally EC and PD images").
func (cfg *Config) writeAuxImage(ctx context.Context, img *image.Image) error {
	path, err := cfg.writeTempImage(img.Data)
	if err != nil {
		return err
	}
	return cfg.Programmer.Write(ctx, path, "")
}
