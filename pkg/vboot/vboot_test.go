// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vboot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/testimage"
	"go.chromium.org/chromiumos/platform/futility-updater/pkg/vboot"
)

func TestFindGBB(t *testing.T) {
	key, err := testimage.NewKey()
	require.NoError(t, err)

	buf := testimage.BuildGBB(testimage.GBBOptions{
		HWID:    "FOO BAR A1B-C2D",
		RootKey: testimage.PackedKeyBlob(key, 1),
		Flags:   0x42,
	})

	gbb, err := vboot.FindGBB(buf)
	require.NoError(t, err)

	hwid, err := gbb.HWID()
	require.NoError(t, err)
	require.Equal(t, "FOO BAR A1B-C2D", hwid)
	require.Equal(t, uint32(0x42), gbb.Flags())

	root, err := gbb.RootKey()
	require.NoError(t, err)
	require.Equal(t, key.DER, root.KeyData)
}

func TestFindGBBNotFound(t *testing.T) {
	_, err := vboot.FindGBB(make([]byte, 256))
	require.ErrorIs(t, err, vboot.ErrInvalid)
}

func TestFindGBBMultipleHeaders(t *testing.T) {
	key, err := testimage.NewKey()
	require.NoError(t, err)
	one := testimage.BuildGBB(testimage.GBBOptions{
		HWID:    "FIRST",
		RootKey: testimage.PackedKeyBlob(key, 1),
	})
	two := testimage.BuildGBB(testimage.GBBOptions{
		HWID:    "SECOND",
		RootKey: testimage.PackedKeyBlob(key, 1),
	})
	// Pad so the second header starts on a 4-byte boundary, matching the
	// alignment every real GBB section respects.
	if pad := len(one) % 4; pad != 0 {
		one = append(one, make([]byte, 4-pad)...)
	}
	buf := append(one, two...)

	_, err = vboot.FindGBB(buf)
	require.ErrorIs(t, err, vboot.ErrMultipleHeaders)
}

func TestSetFlagsAndHWID(t *testing.T) {
	key, err := testimage.NewKey()
	require.NoError(t, err)
	buf := testimage.BuildGBB(testimage.GBBOptions{
		HWID:    "ORIGINAL",
		RootKey: testimage.PackedKeyBlob(key, 1),
	})
	gbb, err := vboot.FindGBB(buf)
	require.NoError(t, err)

	gbb.SetFlags(0x7)
	require.Equal(t, uint32(0x7), gbb.Flags())

	require.NoError(t, gbb.SetHWID("NEWHWID"))
	hwid, err := gbb.HWID()
	require.NoError(t, err)
	require.Equal(t, "NEWHWID", hwid)

	// Re-parsing the same buffer must observe the in-place edits.
	gbb2, err := vboot.FindGBB(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0x7), gbb2.Flags())
}

func TestGetKeyblockAndVerify(t *testing.T) {
	key, err := testimage.NewKey()
	require.NoError(t, err)

	vblock := testimage.BuildVBlock(testimage.KeyblockOptions{
		SigningKey:      key,
		DataKeyVersion:  2,
		FirmwareVersion: 5,
	})

	kb, err := vboot.GetKeyblock(vblock)
	require.NoError(t, err)
	require.Equal(t, uint32(2), kb.DataKey.KeyVersion)
	require.Equal(t, uint32(5), kb.FirmwareVersion)
	require.Equal(t, key.DER, kb.DataKey.KeyData)

	dataKeyVersion, firmwareVersion, err := vboot.KeyVersions(vblock)
	require.NoError(t, err)
	require.Equal(t, uint32(2), dataKeyVersion)
	require.Equal(t, uint32(5), firmwareVersion)

	rootKey := &vboot.PackedKey{KeyData: key.DER}
	require.NoError(t, vboot.VerifyKeyblock(kb, rootKey, vboot.StdlibRSAVerifier{}))
}

func TestVerifyKeyblockWrongKeyFails(t *testing.T) {
	signingKey, err := testimage.NewKey()
	require.NoError(t, err)
	otherKey, err := testimage.NewKey()
	require.NoError(t, err)

	vblock := testimage.BuildVBlock(testimage.KeyblockOptions{SigningKey: signingKey})
	kb, err := vboot.GetKeyblock(vblock)
	require.NoError(t, err)

	wrongRoot := &vboot.PackedKey{KeyData: otherKey.DER}
	err = vboot.VerifyKeyblock(kb, wrongRoot, vboot.StdlibRSAVerifier{})
	require.ErrorIs(t, err, vboot.ErrSignatureInvalid)
}

func TestGetKeyblockTooShort(t *testing.T) {
	_, err := vboot.GetKeyblock(make([]byte, 10))
	require.ErrorIs(t, err, vboot.ErrInvalid)
}

func TestLoadFirmwareVersion(t *testing.T) {
	buf := testimage.FWID("Google_Eve.1234.5.6", 64)
	require.Equal(t, "Google_Eve.1234.5.6", vboot.LoadFirmwareVersion(buf))
}

func TestRootKeyFingerprint(t *testing.T) {
	key, err := testimage.NewKey()
	require.NoError(t, err)
	pk := &vboot.PackedKey{KeyData: key.DER}
	fp1 := vboot.RootKeyFingerprint(pk)
	fp2 := vboot.RootKeyFingerprint(pk)
	require.Equal(t, fp1, fp2)
	require.Len(t, fp1, 40) // hex-encoded SHA1
}
