// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package updater implements the update policy state machine spec.md §4.G
// describes: given a Config populated with a target image, the current
// image (or a way to read it), system properties, and quirks, Update
// chooses one of {Full, RW, Try-RW, Legacy, Factory}, applies the
// compatibility and preservation machinery from pkg/compat and
// pkg/preserve, and issues section-granular writes through pkg/programmer.
package updater

import (
	"os"

	"github.com/hashicorp/go-multierror"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/programmer"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/quirks"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/sysprops"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/vboot"
)

// Config is the updater configuration spec.md §3 describes: the images
// involved, the system-property and quirk registries, the policy flags,
// and the collaborators (Programmer, Verifier, CookieWriter) the core
// consumes as external interfaces. A Config is built, used for exactly one
// Update call, then torn down with Close.
type Config struct {
	Target, Current *image.Image
	EC, PD          *image.Image

	Props    *sysprops.Properties
	Quirks   *quirks.Registry
	Verifier vboot.Verifier

	Programmer programmer.Programmer
	Cookies    CookieWriter

	// TryUpdate corresponds to -t/--mode=autoupdate: prefer a Try-RW
	// update over a disruptive RW-only/Full update.
	TryUpdate bool
	// ForceUpdate waives TPM anti-rollback failures (spec.md §4.F).
	ForceUpdate bool
	// LegacyUpdate corresponds to --mode=legacy.
	LegacyUpdate bool
	// FactoryUpdate corresponds to --mode=factory/--factory.
	FactoryUpdate bool

	// EmulatePath is set when running against a local emulation file
	// instead of real flash; it changes cookie-setting to a no-op log
	// line, per spec.md §4.G.
	EmulatePath string

	Verbosity int

	tmpFiles []string
}

// AddTempFile records path for removal when Close runs, per spec.md §5's
// resource-release discipline.
func (c *Config) AddTempFile(path string) {
	c.tmpFiles = append(c.tmpFiles, path)
}

// Close removes every temp file this configuration created. It is safe to
// call multiple times. Per spec.md §5, this is the "destroyed" half of the
// configuration's one-Update lifecycle; image buffers need no explicit free
// under Go's GC, but temp files are real OS state and must be cleaned up.
func (c *Config) Close() error {
	var errs *multierror.Error
	for _, p := range c.tmpFiles {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
		}
	}
	c.tmpFiles = nil
	return errs.ErrorOrNil()
}
