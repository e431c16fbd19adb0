// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sysprops_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/sysprops"
)

func getters(calls *int) [6]sysprops.Getter {
	return [6]sysprops.Getter{
		func() (int, error) { *calls++; return sysprops.ActA, nil },
		func() (int, error) { *calls++; return 0x10001, nil },
		func() (int, error) { *calls++; return 1, nil },
		func() (int, error) { *calls++; return 3, nil },
		func() (int, error) { *calls++; return 0, nil },
		func() (int, error) { *calls++; return 0, nil },
	}
}

func TestGetCachesAndCallsOnce(t *testing.T) {
	calls := 0
	props := sysprops.New(getters(&calls))

	v, err := props.Get(sysprops.TPMFwver)
	require.NoError(t, err)
	require.Equal(t, 0x10001, v)
	require.Equal(t, 1, calls)

	v, err = props.Get(sysprops.TPMFwver)
	require.NoError(t, err)
	require.Equal(t, 0x10001, v)
	require.Equal(t, 1, calls, "second Get must not invoke the getter again")
}

func TestOverrideBypassesGetter(t *testing.T) {
	calls := 0
	props := sysprops.New(getters(&calls))
	props.Override(sysprops.TPMFwver, 42)

	v, err := props.Get(sysprops.TPMFwver)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 0, calls)
}

func TestGetErrorPropagatesAndIsCached(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	props := sysprops.New([6]sysprops.Getter{
		nil, nil, nil, nil,
		func() (int, error) { calls++; return -1, want },
		nil,
	})
	_, err := props.Get(sysprops.WPHw)
	require.ErrorIs(t, err, want)
	_, err = props.Get(sysprops.WPHw)
	require.ErrorIs(t, err, want)
	require.Equal(t, 1, calls)
}

func TestParseOverrides(t *testing.T) {
	tests := []struct {
		name string
		list string
		want map[sysprops.Property]int
	}{
		{"comma", "0,0x10001,1", map[sysprops.Property]int{
			sysprops.MainFWAct: 0, sysprops.TPMFwver: 0x10001, sysprops.FwVboot2: 1,
		}},
		{"skip middle", "0, ,1", map[sysprops.Property]int{
			sysprops.MainFWAct: 0, sysprops.FwVboot2: 1,
		}},
		{"space separated", "0 1 2", map[sysprops.Property]int{
			sysprops.MainFWAct: 0, sysprops.TPMFwver: 1, sysprops.FwVboot2: 2,
		}},
		{"negative", "0,-1,1", map[sysprops.Property]int{
			sysprops.MainFWAct: 0, sysprops.TPMFwver: -1, sysprops.FwVboot2: 1,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			props := sysprops.New(getters(&calls))
			require.NoError(t, props.ParseOverrides(tc.list))
			for p, want := range tc.want {
				v, err := props.Get(p)
				require.NoError(t, err)
				require.Equal(t, want, v, "property %s", p)
			}
		})
	}
}

func TestParseOverridesRejectsNonInt(t *testing.T) {
	calls := 0
	props := sysprops.New(getters(&calls))
	err := props.ParseOverrides("0,abc,1")
	require.Error(t, err)
}

func TestParseOverridesStopsAtPropertyCount(t *testing.T) {
	calls := 0
	props := sysprops.New(getters(&calls))
	// Seven fields for six properties; the seventh is simply ignored.
	require.NoError(t, props.ParseOverrides("0,1,2,3,4,5,999"))
}

func TestWriteProtectHwErrorTreatedAsEnabled(t *testing.T) {
	props := sysprops.New([6]sysprops.Getter{
		nil, nil, nil, nil,
		func() (int, error) { return -1, errors.New("wp_hw read failed") },
		func() (int, error) { return 0, nil },
	})
	wp, err := props.WriteProtect()
	require.NoError(t, err)
	require.True(t, wp)
}

func TestWriteProtectFallsBackToSw(t *testing.T) {
	props := sysprops.New([6]sysprops.Getter{
		nil, nil, nil, nil,
		func() (int, error) { return 0, nil },
		func() (int, error) { return 1, nil },
	})
	wp, err := props.WriteProtect()
	require.NoError(t, err)
	require.True(t, wp)
}

func TestParseWPStatusLine(t *testing.T) {
	enabled, ok := sysprops.ParseWPStatusLine("WP status: write protect is enabled.")
	require.True(t, ok)
	require.True(t, enabled)

	disabled, ok := sysprops.ParseWPStatusLine("write protect is disabled.")
	require.True(t, ok)
	require.False(t, disabled)

	_, ok = sysprops.ParseWPStatusLine("garbage")
	require.False(t, ok)
}

func TestParsePlatformVersion(t *testing.T) {
	require.Equal(t, 3, sysprops.ParsePlatformVersion("rev3"))
	require.Equal(t, -1, sysprops.ParsePlatformVersion("garbage"))
	require.Equal(t, -1, sysprops.ParsePlatformVersion(""))
}

func TestDumpTo(t *testing.T) {
	calls := 0
	props := sysprops.New(getters(&calls))
	var sb strings.Builder
	props.DumpTo(&sb)
	out := sb.String()
	require.Contains(t, out, "mainfw_act: A")
	require.Contains(t, out, "tpm_fwver: 65537")
}
