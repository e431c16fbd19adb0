// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package quirks_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/cbfs"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/image"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/quirks"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/testimage"
)

func TestParseNameOnly(t *testing.T) {
	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("unlock_me_for_update"))
	require.Equal(t, 1, r.Value(quirks.UnlockMEForUpdate))
}

func TestParseNameEqualsValue(t *testing.T) {
	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("min_platform_version=3"))
	require.Equal(t, 3, r.Value(quirks.MinPlatformVersion))
}

func TestParseCommaAndSpaceSeparated(t *testing.T) {
	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("unlock_me_for_update, min_platform_version=2 eve_smm_store"))
	require.Equal(t, 1, r.Value(quirks.UnlockMEForUpdate))
	require.Equal(t, 2, r.Value(quirks.MinPlatformVersion))
	require.Equal(t, 1, r.Value(quirks.EveSMMStore))
}

func TestParseUnknownNameErrors(t *testing.T) {
	r := quirks.NewRegistry()
	require.Error(t, r.Parse("not_a_real_quirk"))
}

func TestParseLaterValueWins(t *testing.T) {
	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("min_platform_version=2,min_platform_version=5"))
	require.Equal(t, 5, r.Value(quirks.MinPlatformVersion))
}

func TestTryApplyNoOpWhenZero(t *testing.T) {
	r := quirks.NewRegistry()
	require.NoError(t, r.TryApply(quirks.UnlockMEForUpdate, &quirks.Context{}))
}

func TestMinPlatformVersionApply(t *testing.T) {
	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("min_platform_version=3"))

	err := r.TryApply(quirks.MinPlatformVersion, &quirks.Context{PlatformVer: 2})
	require.ErrorContains(t, err, "Need platform version >= 3 (current is 2)")

	require.NoError(t, r.TryApply(quirks.MinPlatformVersion, &quirks.Context{PlatformVer: 3}))
}

func TestUnlockMEForUpdateApply(t *testing.T) {
	siDesc := testimage.Filled(0xff, 4096)
	img := buildImageWithSIDesc(t, siDesc)

	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("unlock_me_for_update"))
	require.NoError(t, r.TryApply(quirks.UnlockMEForUpdate, &quirks.Context{Target: img}))

	sec, err := img.Section(image.SectionSIDesc)
	require.NoError(t, err)
	want := []byte{0x00, 0xFF, 0xFF, 0xFF, 0x00, 0xFF, 0xFF, 0xFF, 0x00, 0xFF, 0xFF, 0xFF}
	require.Equal(t, want, sec.Bytes()[128:140])
	// Untouched tail.
	require.Equal(t, byte(0xff), sec.Bytes()[140])
}

func TestEnlargeImageApply(t *testing.T) {
	img := buildImageWithSIDesc(t, testimage.Filled(0xff, 64))
	originalLen := len(img.Data)

	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("enlarge_image"))
	require.NoError(t, r.TryApply(quirks.EnlargeImage, &quirks.Context{
		Target:         img,
		ProgrammerSize: originalLen + 1024,
	}))
	require.Len(t, img.Data, originalLen+1024)
	for _, b := range img.Data[originalLen:] {
		require.Equal(t, byte(0xFF), b)
	}
}

func TestEveSMMStoreInjectsWhenAbsent(t *testing.T) {
	img := buildImageWithLegacy(t, testimage.Filled(0xff, 512*1024))

	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("eve_smm_store"))
	require.NoError(t, r.TryApply(quirks.EveSMMStore, &quirks.Context{Target: img}))

	sec, err := img.Section(image.SectionRWLegacy)
	require.NoError(t, err)
	require.True(t, cbfs.HasTag(sec.Bytes(), "smm_store"))
}

func TestEveSMMStoreRelocatesExisting(t *testing.T) {
	region := testimage.Filled(0xff, 512*1024)
	require.NoError(t, cbfs.PutRawFile(region, 0x40000, "smm_store", []byte("existing store contents")))
	img := buildImageWithLegacy(t, region)

	r := quirks.NewRegistry()
	require.NoError(t, r.Parse("eve_smm_store"))
	require.NoError(t, r.TryApply(quirks.EveSMMStore, &quirks.Context{Target: img}))

	sec, err := img.Section(image.SectionRWLegacy)
	require.NoError(t, err)
	f, ok := cbfs.FindFile(sec.Bytes(), "smm_store")
	require.True(t, ok)
	require.Equal(t, uint32(0x1000), f.RecordStart)
}

func buildImageWithSIDesc(t *testing.T, siDesc []byte) *image.Image {
	t.Helper()
	buf := testimage.BuildImage([]testimage.Section{{Name: image.SectionSIDesc, Data: siDesc}})
	img, err := image.FromBytes("host", buf)
	require.NoError(t, err)
	return img
}

func buildImageWithLegacy(t *testing.T, legacy []byte) *image.Image {
	t.Helper()
	buf := testimage.BuildImage([]testimage.Section{{Name: image.SectionRWLegacy, Data: legacy}})
	img, err := image.FromBytes("host", buf)
	require.NoError(t, err)
	return img
}
