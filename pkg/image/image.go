// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package image models a firmware image: an owned buffer plus its parsed
// FMAP view and the version strings recorded in it, grounded on
// struct firmware_image in futility/updater.h and on the owned-buffer
// pattern fiano's uefi.FlashDescriptor uses (Buf/SetBuf).
package image

import (
	"bytes"
	"fmt"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/fmap"
)

// Recognized section names, bit-exact with the FMAP layouts this updater
// accepts. RO_FSG is a legacy alias preserved only when present.
const (
	SectionROFRID      = "RO_FRID"
	SectionROSection   = "RO_SECTION"
	SectionGBB         = "GBB"
	SectionROPreserve  = "RO_PRESERVE"
	SectionROVPD       = "RO_VPD"
	SectionRWVPD       = "RW_VPD"
	SectionVBlockA     = "VBLOCK_A"
	SectionVBlockB     = "VBLOCK_B"
	SectionRWSectionA  = "RW_SECTION_A"
	SectionRWSectionB  = "RW_SECTION_B"
	SectionRWFWID      = "RW_FWID"
	SectionRWFWIDA     = "RW_FWID_A"
	SectionRWFWIDB     = "RW_FWID_B"
	SectionRWShared    = "RW_SHARED"
	SectionRWNVRAM     = "RW_NVRAM"
	SectionRWELog      = "RW_ELOG"
	SectionRWPreserve  = "RW_PRESERVE"
	SectionRWLegacy    = "RW_LEGACY"
	SectionSMMStore    = "SMMSTORE"
	SectionSIDesc      = "SI_DESC"
	SectionSIME        = "SI_ME"
	SectionLegacyRoFSG = "RO_FSG"
)

// Image is an owned byte buffer plus the metadata the updater needs to
// reason about it: the programmer identifier it came from (or will be
// written to), an optional source file name, its parsed FMAP, and its three
// firmware version strings.
type Image struct {
	Programmer string
	FileName   string

	Data []byte
	FMap *fmap.FMap

	ROVersion   string
	RWVersionA  string
	RWVersionB  string
}

// FromBytes parses buf's FMAP and returns an Image. The RO/RW version
// strings are left empty; callers that need them call LoadVersions.
func FromBytes(programmer string, buf []byte) (*Image, error) {
	fm, err := fmap.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("image: parsing fmap: %w", err)
	}
	return &Image{Programmer: programmer, Data: buf, FMap: fm}, nil
}

// LoadVersions populates ROVersion, RWVersionA and RWVersionB from the
// image's RO_FRID/RW_FWID_A/RW_FWID_B sections (falling back to the single
// RW_FWID section some layouts use for both slots), per struct
// firmware_image's fields in futility/updater.h. Sections that don't exist
// are left as empty strings rather than causing an error: not every image
// layout carries every version section.
func (img *Image) LoadVersions() {
	img.ROVersion = img.versionOf(SectionROFRID)

	if img.HasSection(SectionRWFWIDA) {
		img.RWVersionA = img.versionOf(SectionRWFWIDA)
	} else {
		img.RWVersionA = img.versionOf(SectionRWFWID)
	}
	if img.HasSection(SectionRWFWIDB) {
		img.RWVersionB = img.versionOf(SectionRWFWIDB)
	} else {
		img.RWVersionB = img.versionOf(SectionRWFWID)
	}
}

// versionOf returns the NUL-truncated ASCII string stored in the named
// section, or "" if the section does not exist.
func (img *Image) versionOf(name string) string {
	sec, err := img.Section(name)
	if err != nil {
		return ""
	}
	buf := sec.Bytes()
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// Section returns the named section as a Section view, or an error if the
// image's FMAP does not contain it.
func (img *Image) Section(name string) (Section, error) {
	s, err := img.FMap.Section(name)
	if err != nil {
		return Section{}, err
	}
	if s.End() > uint32(len(img.Data)) {
		return Section{}, fmt.Errorf("image: section %q (%d..%d) out of bounds of %d-byte image",
			name, s.Offset, s.End(), len(img.Data))
	}
	return Section{name: name, offset: s.Offset, size: s.Size, img: img}, nil
}

// HasSection reports whether name exists in the image's FMAP.
func (img *Image) HasSection(name string) bool {
	return img.FMap != nil && img.FMap.Exists(name)
}

// Section is a non-owning (offset, length) view pinned to the Image it was
// derived from. It is invalidated the moment img.Data is replaced by a
// differently-sized buffer, which is why it carries a pointer back to img
// rather than a raw byte slice: readers always re-slice img.Data on demand.
type Section struct {
	name   string
	offset uint32
	size   uint32
	img    *Image
}

// Name returns the section's FMAP name.
func (s Section) Name() string { return s.name }

// Offset returns the section's offset in its image.
func (s Section) Offset() uint32 { return s.offset }

// Size returns the section's length in bytes.
func (s Section) Size() uint32 { return s.size }

// Bytes returns a slice of the owning image's current buffer. Do not retain
// this slice across mutation of img.Data.
func (s Section) Bytes() []byte {
	return s.img.Data[s.offset : s.offset+s.size]
}
