// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package preserve_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/preserve"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/quirks"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/testimage"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/vboot"
)

func buildImage(t *testing.T, sections ...testimage.Section) *image.Image {
	t.Helper()
	img, err := image.FromBytes("host", testimage.BuildImage(sections))
	require.NoError(t, err)
	return img
}

func TestSectionCopyExact(t *testing.T) {
	from := buildImage(t, testimage.Section{Name: image.SectionRWVPD, Data: []byte("FROMDATA")})
	to := buildImage(t, testimage.Section{Name: image.SectionRWVPD, Data: []byte("todata!!")})

	require.NoError(t, preserve.Section(from, to, image.SectionRWVPD))

	sec, err := to.Section(image.SectionRWVPD)
	require.NoError(t, err)
	require.Equal(t, "FROMDATA", string(sec.Bytes()))
}

func TestSectionCopyTruncatesOnShortDestination(t *testing.T) {
	from := buildImage(t, testimage.Section{Name: image.SectionRWVPD, Data: []byte("LONGERSOURCE")})
	to := buildImage(t, testimage.Section{Name: image.SectionRWVPD, Data: []byte("short")})

	require.NoError(t, preserve.Section(from, to, image.SectionRWVPD))
	sec, err := to.Section(image.SectionRWVPD)
	require.NoError(t, err)
	require.Equal(t, "LONGE", string(sec.Bytes()))
}

func TestSectionCopyIdempotent(t *testing.T) {
	from := buildImage(t, testimage.Section{Name: image.SectionRWVPD, Data: []byte("STABLEDATA")})
	to := buildImage(t, testimage.Section{Name: image.SectionRWVPD, Data: make([]byte, 10)})

	require.NoError(t, preserve.Section(from, to, image.SectionRWVPD))
	first, err := to.Section(image.SectionRWVPD)
	require.NoError(t, err)
	firstBytes := append([]byte(nil), first.Bytes()...)

	require.NoError(t, preserve.Section(from, to, image.SectionRWVPD))
	second, err := to.Section(image.SectionRWVPD)
	require.NoError(t, err)
	require.Equal(t, firstBytes, second.Bytes())
}

func TestGBBPreservesFlagsAndHWID(t *testing.T) {
	key, err := testimage.NewKey()
	require.NoError(t, err)

	fromGBB := testimage.BuildGBB(testimage.GBBOptions{
		HWID:    "SOURCE HWID A1B",
		RootKey: testimage.PackedKeyBlob(key, 1),
		Flags:   0x5,
	})
	toGBB := testimage.BuildGBB(testimage.GBBOptions{
		HWID:    "TARGET HWID",
		RootKey: testimage.PackedKeyBlob(key, 1),
		Flags:   0,
	})

	from := buildImage(t, testimage.Section{Name: image.SectionGBB, Data: fromGBB})
	to := buildImage(t, testimage.Section{Name: image.SectionGBB, Data: toGBB})

	require.NoError(t, preserve.GBB(from, to))

	sec, err := to.Section(image.SectionGBB)
	require.NoError(t, err)
	gbb, err := vboot.FindGBB(sec.Bytes())
	require.NoError(t, err)
	hwid, err := gbb.HWID()
	require.NoError(t, err)
	require.Equal(t, "SOURCE HWID A1B", hwid)
	require.Equal(t, uint32(0x5), gbb.Flags())
}

func TestManagementEngineLockedPreservesSIDesc(t *testing.T) {
	from := buildImage(t,
		testimage.Section{Name: image.SectionSIME, Data: testimage.Filled(0xff, 256)},
		testimage.Section{Name: image.SectionSIDesc, Data: []byte("FROM DESC")},
	)
	to := buildImage(t,
		testimage.Section{Name: image.SectionSIME, Data: testimage.Filled(0xff, 256)},
		testimage.Section{Name: image.SectionSIDesc, Data: []byte("TO DESCXXX")},
	)

	reg := quirks.NewRegistry()
	require.NoError(t, preserve.ManagementEngine(reg, &quirks.Context{Target: to}, from, to))

	sec, err := to.Section(image.SectionSIDesc)
	require.NoError(t, err)
	require.Equal(t, "FROM DESC", string(sec.Bytes()[:len("FROM DESC")]))
}

func TestManagementEngineUnlockedAppliesQuirkWhenSet(t *testing.T) {
	from := buildImage(t,
		testimage.Section{Name: image.SectionSIME, Data: []byte("NOT ERASED")},
		testimage.Section{Name: image.SectionSIDesc, Data: testimage.Filled(0xff, 4096)},
	)
	to := buildImage(t,
		testimage.Section{Name: image.SectionSIME, Data: []byte("NOT ERASED")},
		testimage.Section{Name: image.SectionSIDesc, Data: testimage.Filled(0xff, 4096)},
	)

	reg := quirks.NewRegistry()
	require.NoError(t, reg.Parse("unlock_me_for_update"))
	require.NoError(t, preserve.ManagementEngine(reg, &quirks.Context{Target: to}, from, to))

	sec, err := to.Section(image.SectionSIDesc)
	require.NoError(t, err)
	require.Equal(t, byte(0x00), sec.Bytes()[128])
}

func TestManagementEngineSkippedWhenSourceHasNoSIME(t *testing.T) {
	from := buildImage(t, testimage.Section{Name: image.SectionROVPD, Data: []byte("x")})
	to := buildImage(t, testimage.Section{Name: image.SectionSIDesc, Data: []byte("y")})

	reg := quirks.NewRegistry()
	require.NoError(t, preserve.ManagementEngine(reg, &quirks.Context{Target: to}, from, to))
}

func TestImagesPreservesPresentSections(t *testing.T) {
	key, err := testimage.NewKey()
	require.NoError(t, err)
	gbb := testimage.BuildGBB(testimage.GBBOptions{HWID: "HW", RootKey: testimage.PackedKeyBlob(key, 1)})

	from := buildImage(t,
		testimage.Section{Name: image.SectionGBB, Data: gbb},
		testimage.Section{Name: image.SectionRWVPD, Data: []byte("VPDDATA")},
		testimage.Section{Name: image.SectionRWNVRAM, Data: []byte("NVDATA")},
	)
	to := buildImage(t,
		testimage.Section{Name: image.SectionGBB, Data: gbb},
		testimage.Section{Name: image.SectionRWVPD, Data: make([]byte, len("VPDDATA"))},
		testimage.Section{Name: image.SectionRWNVRAM, Data: make([]byte, len("NVDATA"))},
	)

	reg := quirks.NewRegistry()
	err = preserve.Images(reg, &quirks.Context{Target: to}, from, to)
	require.NoError(t, err)

	sec, err := to.Section(image.SectionRWVPD)
	require.NoError(t, err)
	require.Equal(t, "VPDDATA", string(sec.Bytes()))
}
