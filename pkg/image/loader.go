// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package image

import (
	"io"
	"os"
)

// LoadFile reads path and parses it as an Image.
func LoadFile(programmer, path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := FromBytes(programmer, data)
	if err != nil {
		return nil, err
	}
	img.FileName = path
	return img, nil
}

// LoadStdin drains r (stdin) into tmpDir as a temp file, then loads it as an
// Image. The caller is responsible for tracking the returned path for
// cleanup, mirroring the updater's temp-file list (spec.md §5).
func LoadStdin(programmer string, r io.Reader, tmpDir string) (*Image, string, error) {
	f, err := os.CreateTemp(tmpDir, "futility-stdin-*")
	if err != nil {
		return nil, "", err
	}
	path := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, path, err
	}
	if err := f.Close(); err != nil {
		return nil, path, err
	}
	img, err := LoadFile(programmer, path)
	return img, path, err
}
