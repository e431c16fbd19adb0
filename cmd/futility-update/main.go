// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command futility-update is the CLI entry point for the AP firmware update
// engine: it parses the flag surface spec.md §6 describes, builds a
// pkg/updater.Config, and runs the update (or, under --manifest, prints an
// archive's model manifest and exits).
//
// Grounded on the teacher's cmds/cbfs main.go (a thin pflag-driven wrapper
// calling into a pkg/ library, one switch over a mode string), generalized
// from a single boolean flag to the full surface this updater needs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/compat"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/log"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/manifest"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/programmer"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/quirks"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/sysprops"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/updater"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/vboot"
)

var (
	imagePath   = flag.StringP("image", "i", "", "target image, or - for stdin")
	ecPath      = flag.StringP("ec_image", "e", "", "EC image")
	pdPath      = flag.StringP("pd_image", "P", "", "PD image")
	archiveRoot = flag.StringP("archive", "a", "", "archive root directory for resolving relative image paths and --manifest")
	quirksList  = flag.String("quirks", "", "comma/space separated quirks list (name or name=value)")
	mode        = flag.String("mode", "", "one of autoupdate, recovery, legacy, factory, factory_install")
	tryUpdate   = flag.BoolP("try_update", "t", false, "equivalent to --mode=autoupdate")
	factory     = flag.Bool("factory", false, "equivalent to --mode=factory")
	programmerSpec = flag.String("programmer", "host", "programmer identifier, e.g. host or ft2232_spi:...")
	emulatePath = flag.String("emulate", "", "emulation-file path; writes go to this file instead of real flash")
	sysPropsList = flag.String("sys_props", "", "override system properties: mainfw_act,tpm_fwver,fw_vboot2,platform_ver,wp_hw,wp_sw")
	wpOverride  = flag.Int("wp", -1, "override both hw and sw write protect to 0 or 1")
	force       = flag.Bool("force", false, "waive TPM anti-rollback failures")
	doManifest  = flag.Bool("manifest", false, "print a JSON manifest of --archive's model configurations and exit")
	verbosity   = flag.CountP("verbose", "v", "increase verbosity (repeatable)")
)

func main() {
	defaultUsage := flag.Usage
	flag.Usage = func() {
		defaultUsage()
		fmt.Fprintln(os.Stderr, "\nrecognized --quirks:")
		fmt.Fprint(os.Stderr, quirks.NewRegistry().Usage())
	}
	flag.Parse()
	log.SetVerbosity(*verbosity)

	if err := run(); err != nil {
		log.Errorf("%v", err)
		os.Exit(exitCode(err))
	}
}

func run() error {
	if *doManifest {
		if *archiveRoot == "" {
			return fmt.Errorf("futility-update: --manifest requires --archive")
		}
		m, err := manifest.FromArchiveRoot(*archiveRoot)
		if err != nil {
			return err
		}
		if err := m.WriteJSON(os.Stdout); err != nil {
			return err
		}
		if *verbosity >= 1 {
			m.WriteTable(os.Stderr)
		}
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	defer cfg.Close()

	if *verbosity >= 2 {
		cfg.Props.DumpTo(os.Stderr)
	}

	ctx := context.Background()
	return updater.Update(ctx, cfg)
}

func buildConfig() (*updater.Config, error) {
	if *imagePath == "" {
		return nil, fmt.Errorf("%w", updater.ErrNoImage)
	}

	target, tmpPath, err := loadImage(*imagePath)
	if err != nil {
		return nil, fmt.Errorf("futility-update: loading target image: %w", err)
	}

	cfg := &updater.Config{
		Target:        target,
		Quirks:        quirks.NewRegistry(),
		Verifier:      vboot.StdlibRSAVerifier{},
		TryUpdate:     *tryUpdate || *mode == "autoupdate",
		ForceUpdate:   *force,
		LegacyUpdate:  *mode == "legacy",
		FactoryUpdate: *factory || *mode == "factory" || *mode == "factory_install",
		EmulatePath:   *emulatePath,
		Verbosity:     *verbosity,
	}
	if tmpPath != "" {
		cfg.AddTempFile(tmpPath)
	}

	cfg.Quirks.ApplyDefaults(compat.PlatformPrefix(target.ROVersion))
	if *quirksList != "" {
		if err := cfg.Quirks.Parse(*quirksList); err != nil {
			return nil, fmt.Errorf("futility-update: %w", err)
		}
	}

	if *ecPath != "" {
		ec, tmpPath, err := loadImage(*ecPath)
		if err != nil {
			return nil, fmt.Errorf("futility-update: loading EC image: %w", err)
		}
		cfg.EC = ec
		if tmpPath != "" {
			cfg.AddTempFile(tmpPath)
		}
	}
	if *pdPath != "" {
		pd, tmpPath, err := loadImage(*pdPath)
		if err != nil {
			return nil, fmt.Errorf("futility-update: loading PD image: %w", err)
		}
		cfg.PD = pd
		if tmpPath != "" {
			cfg.AddTempFile(tmpPath)
		}
	}

	runner := programmer.ExecRunner{}
	if *emulatePath != "" {
		cfg.Programmer = programmer.NewEmulateProgrammer(*emulatePath)
	} else {
		cfg.Programmer = programmer.NewFlashromProgrammer(programmer.ID(*programmerSpec), "")
		cfg.Cookies = updater.CrossystemCookieWriter{Runner: runner}
	}

	cfg.Props = sysprops.New(defaultGetters(cfg, runner))
	if *wpOverride >= 0 {
		cfg.Props.Override(sysprops.WPHw, *wpOverride)
		cfg.Props.Override(sysprops.WPSw, *wpOverride)
	}
	if *sysPropsList != "" {
		if err := cfg.Props.ParseOverrides(*sysPropsList); err != nil {
			return nil, fmt.Errorf("futility-update: %w", err)
		}
	}

	return cfg, nil
}

// defaultGetters wires the six system-property cells to the same external
// commands original_source/futility/updater.c's host_get_* helpers shell out
// to: crossystem for mainfw_act/tpm_fwver/fw_vboot2/wpsw_cur(+wpsw_boot
// fallback), and `mosys platform version` for platform_ver. Hardware write
// protect is read from the programmer itself (flashrom --wp-status), which
// the original C implementation does not separate from wpsw_cur but spec.md
// §3/§4.C models as a distinct cell.
func defaultGetters(cfg *updater.Config, runner programmer.Runner) [6]sysprops.Getter {
	crossystem := func(prop string) (int, error) {
		out, _, err := runner.Run(context.Background(), "crossystem", prop)
		if err != nil {
			return 0, err
		}
		return parseCrossystemInt(out)
	}

	var getters [6]sysprops.Getter
	getters[sysprops.MainFWAct] = func() (int, error) {
		out, _, err := runner.Run(context.Background(), "crossystem", "mainfw_act")
		if err != nil {
			return sysprops.ActUnknown, err
		}
		switch trimOneLine(out) {
		case "A":
			return sysprops.ActA, nil
		case "B":
			return sysprops.ActB, nil
		default:
			return sysprops.ActUnknown, nil
		}
	}
	getters[sysprops.TPMFwver] = func() (int, error) { return crossystem("tpm_fwver") }
	getters[sysprops.FwVboot2] = func() (int, error) { return crossystem("fw_vboot2") }
	getters[sysprops.PlatformVer] = func() (int, error) {
		out, _, err := runner.Run(context.Background(), "mosys", "platform", "version")
		if err != nil {
			return -1, err
		}
		return sysprops.ParsePlatformVersion(out), nil
	}
	getters[sysprops.WPHw] = func() (int, error) {
		enabled, err := cfg.Programmer.WPStatus(context.Background())
		if err != nil {
			return 0, err
		}
		if enabled {
			return 1, nil
		}
		return 0, nil
	}
	getters[sysprops.WPSw] = func() (int, error) {
		v, err := crossystem("wpsw_cur")
		if err == nil {
			return v, nil
		}
		return crossystem("wpsw_boot")
	}
	return getters
}

// loadImage loads path, or stdin when path is "-". The second return value
// is the temp file image.LoadStdin creates to buffer stdin into a seekable
// file; the caller must register it with Config.AddTempFile so it gets
// cleaned up. It is empty for file-backed loads.
func loadImage(path string) (*image.Image, string, error) {
	var img *image.Image
	var tmpPath string
	var err error
	if path == "-" {
		img, tmpPath, err = image.LoadStdin("", os.Stdin, "")
	} else {
		img, err = image.LoadFile("", path)
	}
	if err != nil {
		return nil, "", err
	}
	img.LoadVersions()
	return img, tmpPath, nil
}

func parseCrossystemInt(out string) (int, error) {
	var v int
	_, err := fmt.Sscanf(trimOneLine(out), "%d", &v)
	return v, err
}

func trimOneLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// exitCode maps the closed error taxonomy in pkg/updater to a process exit
// code, per spec.md §6/§7. Codes are assigned in the same order the taxonomy
// is listed in spec.md §7, after the always-zero success case.
func exitCode(err error) int {
	sentinels := []error{
		updater.ErrNoImage,
		updater.ErrSystemImage,
		updater.ErrInvalidImage,
		updater.ErrSetCookies,
		updater.ErrWriteFirmware,
		updater.ErrPlatform,
		updater.ErrTarget,
		updater.ErrRootKey,
		updater.ErrTPMRollback,
	}
	for i, s := range sentinels {
		if errors.Is(err, s) {
			return i + 1
		}
	}
	return len(sentinels) + 1 // ErrUnknown and anything else
}
