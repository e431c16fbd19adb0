// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cbfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// FindFile scans data — a standalone CBFS region's bytes, such as an FMAP
// RW_LEGACY section — for a file named name. The whole of data is taken to
// be the CBFS area; no top-level FMAP wrapping a "COREBOOT" area is
// expected or looked for: this is the RW_LEGACY-scoped
// entry point the updater's Try-RW path and the eve_smm_store quirk use.
func FindFile(data []byte, name string) (*File, bool) {
	for off := 0; off+FileSize <= len(data); {
		var f File
		r := bytes.NewReader(data[off:])
		if err := Read(r, &f.FileHeader); err != nil {
			break
		}
		if string(f.Magic[:]) != FileMagic {
			off += Alignment
			continue
		}
		f.RecordStart = uint32(off)

		nameStart := off + FileSize
		nameEnd := off + int(f.SubHeaderOffset)
		if f.AttrOffset != 0 {
			nameEnd = off + int(f.AttrOffset)
		}
		if nameEnd < nameStart || nameEnd > len(data) {
			break
		}
		f.Name = cleanString(string(bytes.TrimRight(data[nameStart:nameEnd], "\x00")))
		if f.AttrOffset != 0 {
			attrEnd := off + int(f.SubHeaderOffset)
			if attrEnd >= nameEnd && attrEnd <= len(data) {
				f.Attr = append([]byte(nil), data[nameEnd:attrEnd]...)
			}
		}
		if f.Name == name {
			return &f, true
		}

		next := off + int(f.SubHeaderOffset) + int(f.Size)
		aligned := (next + Alignment - 1) &^ (Alignment - 1)
		if aligned <= off {
			break
		}
		off = aligned
	}
	return nil, false
}

// HasTag reports whether a CBFS file named name is present in data. The
// Try-RW handler uses this to check the cros_allow_auto_update tag on both
// sides of an RW_LEGACY diff before writing it (spec.md §4.G).
func HasTag(data []byte, name string) bool {
	_, ok := FindFile(data, name)
	return ok
}

// PutRawFile writes name/payload as a TypeRaw CBFS file at the given offset
// within data: file header, NUL-padded name, then payload, the same layout
// FindFile reads back. Used by the eve_smm_store quirk
// to relocate, or inject, the SMM store entry inside RW_LEGACY at a fixed
// offset so the legacy bootloader finds it after a full update.
func PutRawFile(data []byte, offset uint32, name string, payload []byte) error {
	nameField := make([]byte, align(len(name)+1, 16))
	copy(nameField, name)

	hdr := FileHeader{
		Type:            TypeRaw,
		AttrOffset:      0,
		SubHeaderOffset: uint32(FileSize + len(nameField)),
		Size:            uint32(len(payload)),
	}
	copy(hdr.Magic[:], FileMagic)

	var buf bytes.Buffer
	if err := Write(&buf, hdr); err != nil {
		return fmt.Errorf("cbfs: encoding raw file header: %w", err)
	}
	buf.Write(nameField)
	buf.Write(payload)

	end := int(offset) + buf.Len()
	if end > len(data) {
		return fmt.Errorf("cbfs: smm store entry (%d bytes at offset %#x) does not fit in %d-byte region", buf.Len(), offset, len(data))
	}
	copy(data[offset:end], buf.Bytes())
	return nil
}

func align(n, a int) int {
	if r := n % a; r != 0 {
		n += a - r
	}
	return n
}

// CompressionOf scans f's attribute chain for a FileAttrCompression record and
// reports the compression method it names, or None if f carries no such
// attribute.
func CompressionOf(f *File) Compression {
	attrs := f.Attr
	for len(attrs) >= 8 {
		tag := Tag(Endian.Uint32(attrs[0:4]))
		size := Endian.Uint32(attrs[4:8])
		if size < 8 || int(size) > len(attrs) {
			break
		}
		if tag == Compressed && size >= 16 {
			return Compression(Endian.Uint32(attrs[8:12]))
		}
		attrs = attrs[size:]
	}
	return None
}

// DecompressPayload returns raw decompressed according to f's compression
// attribute. LZMA payloads (the only compression coreboot's SMM store ever
// uses) are inflated with a raw LZMA1 stream reader; any other compression
// (or none) is returned unchanged, since PutRawFile relocates compressed
// bytes as-is and never needs to recompress them.
func DecompressPayload(f *File, raw []byte) ([]byte, error) {
	if CompressionOf(f) != LZMA {
		return raw, nil
	}
	r, err := lzma.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("cbfs: opening lzma stream: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cbfs: decompressing lzma stream: %w", err)
	}
	return out, nil
}
