// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package programmer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/programmer"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/testimage"
)

type fakeRunner struct {
	stdout string
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stdout, "", f.err
}

func TestFlashromWPStatusEnabled(t *testing.T) {
	r := &fakeRunner{stdout: "WP status: write protect is enabled.\n"}
	p := &programmer.FlashromProgrammer{ID: "host", Runner: r}
	enabled, err := p.WPStatus(context.Background())
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestFlashromWPStatusDisabled(t *testing.T) {
	r := &fakeRunner{stdout: "write protect is disabled.\n"}
	p := &programmer.FlashromProgrammer{ID: "host", Runner: r}
	enabled, err := p.WPStatus(context.Background())
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestFlashromWriteUsesSectionFlag(t *testing.T) {
	r := &fakeRunner{}
	p := &programmer.FlashromProgrammer{ID: "host", Runner: r}
	require.NoError(t, p.Write(context.Background(), "/tmp/image.bin", "RW_SECTION_A"))
	require.Contains(t, r.calls[0], "-i")
	require.Contains(t, r.calls[0], "RW_SECTION_A")
}

func TestEmulateWriteWholeImage(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "emulated.bin")
	require.NoError(t, os.WriteFile(dest, []byte("old contents"), 0o666))

	src := filepath.Join(dir, "new.bin")
	require.NoError(t, os.WriteFile(src, []byte("new contents!"), 0o666))

	p := programmer.NewEmulateProgrammer(dest)
	require.NoError(t, p.Write(context.Background(), src, ""))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "new contents!", string(got))
}

func TestEmulateWriteSplicesSection(t *testing.T) {
	dir := t.TempDir()

	destBuf := testimage.BuildImage([]testimage.Section{
		{Name: image.SectionRWSectionB, Data: []byte("OLDSECTIONB")},
	})
	dest := filepath.Join(dir, "emulated.bin")
	require.NoError(t, os.WriteFile(dest, destBuf, 0o666))

	srcBuf := testimage.BuildImage([]testimage.Section{
		{Name: image.SectionRWSectionB, Data: []byte("NEWSECTIONB")},
	})
	src := filepath.Join(dir, "new.bin")
	require.NoError(t, os.WriteFile(src, srcBuf, 0o666))

	p := programmer.NewEmulateProgrammer(dest)
	require.NoError(t, p.Write(context.Background(), src, image.SectionRWSectionB))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	img, err := image.FromBytes("emulate", got)
	require.NoError(t, err)
	sec, err := img.Section(image.SectionRWSectionB)
	require.NoError(t, err)
	require.Equal(t, "NEWSECTIONB", string(sec.Bytes()))
}

func TestEmulateSize(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "emulated.bin")
	require.NoError(t, os.WriteFile(dest, make([]byte, 4096), 0o666))

	p := programmer.NewEmulateProgrammer(dest)
	n, err := p.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4096, n)
}
