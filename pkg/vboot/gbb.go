// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package vboot locates and validates the verified-boot structures inside an
// AP firmware image: the GBB (Google Binary Block), the root key it embeds,
// and the keyblock/preamble pair at the head of each RW firmware slot.
//
// The keyblock/preamble wire layout mirrors vboot_reference's vb2_gbb_header,
// vb2_keyblock and vb2_fw_preamble. Actually verifying an RSA signature
// against a vboot packed key is the kind of cryptographic primitive spec.md
// §1 calls out as an external collaborator ("used as a library"): vboot
// packed keys are not DER/PKCS1 encoded, so real verification belongs behind
// the Verifier interface in keyblock.go, not hand-rolled here.
package vboot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Signature marks the start of a GBB.
var Signature = []byte("$GBB")

const (
	majorVersion = 1
	headerSize   = 0x80
)

// gbbHeader is the on-flash layout of a GBB header.
type gbbHeader struct {
	Signature          [4]byte
	MajorVersion       uint16
	MinorVersion       uint16
	HeaderSize         uint32
	HWIDOffset         uint32
	HWIDSize           uint32
	RootKeyOffset      uint32
	RootKeySize        uint32
	BmpFVOffset        uint32
	BmpFVSize          uint32
	RecoveryKeyOffset  uint32
	RecoveryKeySize    uint32
	Flags              uint32
}

// GBB is a validated, parsed Google Binary Block.
type GBB struct {
	hdr gbbHeader
	buf []byte // the GBB section's bytes, hdr fields are offsets into this
}

var (
	// ErrNotFound names a missing GBB section. FindGBB only sees the
	// section's bytes and does not return it: a blob with no valid header
	// yields ErrInvalid.
	ErrNotFound = errors.New("vboot: GBB section not found")
	// ErrMultipleHeaders is returned when the blob contains more than one
	// valid GBB header (spec.md §8 property 3).
	ErrMultipleHeaders = errors.New("vboot: multiple valid GBB headers found")
	// ErrInvalid is returned when the header fails a structural invariant.
	ErrInvalid = errors.New("vboot: invalid GBB header")
)

// FindGBB scans buf (the GBB section's bytes) for the 4-byte signature and
// validates it. Per spec.md §3, the search accepts the input iff exactly one
// valid header is found in the blob.
func FindGBB(buf []byte) (*GBB, error) {
	valid := 0
	var found gbbHeader
	const searchStride = 4
	for start := 0; start+headerSize <= len(buf); start += searchStride {
		if !bytes.Equal(buf[start:start+len(Signature)], Signature) {
			continue
		}
		var h gbbHeader
		if err := binary.Read(bytes.NewReader(buf[start:start+headerSize]), binary.LittleEndian, &h); err != nil {
			continue
		}
		if !headerValid(&h, len(buf)) {
			continue
		}
		found = h
		valid++
	}
	switch {
	case valid == 0:
		return nil, fmt.Errorf("%w", ErrInvalid)
	case valid > 1:
		return nil, ErrMultipleHeaders
	default:
		return &GBB{hdr: found, buf: buf}, nil
	}
}

func headerValid(h *gbbHeader, blobLen int) bool {
	if h.MajorVersion != majorVersion {
		return false
	}
	if h.HeaderSize != headerSize || int(h.HeaderSize) > blobLen {
		return false
	}
	descriptors := [][2]uint32{
		{h.HWIDOffset, h.HWIDSize},
		{h.RootKeyOffset, h.RootKeySize},
		{h.BmpFVOffset, h.BmpFVSize},
		{h.RecoveryKeyOffset, h.RecoveryKeySize},
	}
	for _, d := range descriptors {
		offset, size := d[0], d[1]
		if offset < uint32(headerSize) {
			return false
		}
		end := uint64(offset) + uint64(size)
		if end > uint64(blobLen) {
			return false
		}
	}
	return true
}

// flagsOffset is the byte offset of gbbHeader.Flags from the start of the
// header: every other field is fixed-width, so this is just their sum.
const flagsOffset = 4 + 2 + 2 + 4 + 4*8

// Flags returns the GBB's 32-bit flags word.
func (g *GBB) Flags() uint32 { return g.hdr.Flags }

// SetFlags overwrites the GBB's flags word in place.
func (g *GBB) SetFlags(f uint32) {
	g.hdr.Flags = f
	binary.LittleEndian.PutUint32(g.buf[flagsOffset:], f)
}

// HWID returns the NUL-terminated HWID string recorded in the GBB.
func (g *GBB) HWID() (string, error) {
	if g.hdr.HWIDSize == 0 {
		return "", nil
	}
	field := g.buf[g.hdr.HWIDOffset : g.hdr.HWIDOffset+g.hdr.HWIDSize]
	nul := bytes.IndexByte(field, 0)
	if nul < 0 {
		return "", fmt.Errorf("%w: HWID field has no terminating NUL", ErrInvalid)
	}
	return string(field[:nul]), nil
}

// SetHWID zeroes the HWID field and writes the given HWID string into it,
// per spec.md §4.E preserve_gbb semantics. It returns an error, leaving the
// field untouched, if the string plus its terminating NUL does not fit.
func (g *GBB) SetHWID(hwid string) error {
	field := g.buf[g.hdr.HWIDOffset : g.hdr.HWIDOffset+g.hdr.HWIDSize]
	if uint32(len(hwid)+1) > g.hdr.HWIDSize {
		return fmt.Errorf("vboot: HWID %q (%d bytes) does not fit in %d-byte field", hwid, len(hwid)+1, g.hdr.HWIDSize)
	}
	for i := range field {
		field[i] = 0
	}
	copy(field, hwid)
	return nil
}

// RootKeyOffset and RootKeySize expose the descriptor RootKey reads.
func (g *GBB) RootKeyOffset() uint32 { return g.hdr.RootKeyOffset }
func (g *GBB) RootKeySize() uint32   { return g.hdr.RootKeySize }

// RootKey returns the packed key at RootKeyOffset within the GBB.
func (g *GBB) RootKey() (*PackedKey, error) {
	blob := g.buf[g.hdr.RootKeyOffset : g.hdr.RootKeyOffset+g.hdr.RootKeySize]
	return parsePackedKey(blob)
}
