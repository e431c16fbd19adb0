// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/manifest"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o777))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o666))
}

func TestFromArchiveRootNoModelsDir(t *testing.T) {
	m, err := manifest.FromArchiveRoot(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, m.Models)
}

func TestFromArchiveRootFindsModels(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "models", "reef", "image.bin"), "reefimage")
	writeFile(t, filepath.Join(root, "models", "reef", "signature_id"), "reef\n")
	writeFile(t, filepath.Join(root, "models", "coral", "image.bin"), "coralimage")
	writeFile(t, filepath.Join(root, "models", "coral", "ec.bin"), "coralec")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "keyset"), 0o777))

	m, err := manifest.FromArchiveRoot(root)
	require.NoError(t, err)
	require.True(t, m.HasKeyset)
	require.Len(t, m.Models, 2)

	require.Equal(t, "coral", m.Models[0].Name)
	require.Contains(t, m.Models[0].ECImage, "ec.bin")
	require.Equal(t, "reef", m.Models[1].Name)
	require.Equal(t, "reef", m.Models[1].SignatureID)
}

func TestFromArchiveRootDefaultModel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "models", "default", "image.bin"), "defaultimage")
	writeFile(t, filepath.Join(root, "models", "reef", "image.bin"), "reefimage")

	m, err := manifest.FromArchiveRoot(root)
	require.NoError(t, err)
	require.GreaterOrEqual(t, m.DefaultModel, 0)
	require.Equal(t, "default", m.Models[m.DefaultModel].Name)
}

func TestWriteJSONRoundTrips(t *testing.T) {
	m := &manifest.Manifest{
		DefaultModel: 0,
		HasKeyset:    true,
		Models: []manifest.ModelConfig{
			{Name: "reef", Image: "/archive/models/reef/image.bin", SignatureID: "reef"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, m.WriteJSON(&buf))
	require.Contains(t, buf.String(), `"name": "reef"`)
	require.Contains(t, buf.String(), `"has_keyset": true`)
}

func TestWriteTableRendersModelNames(t *testing.T) {
	m := &manifest.Manifest{
		Models: []manifest.ModelConfig{
			{Name: "reef", Image: "image.bin"},
		},
	}
	var buf bytes.Buffer
	m.WriteTable(&buf)
	require.Contains(t, buf.String(), "reef")
	require.Contains(t, buf.String(), "image.bin")
}
