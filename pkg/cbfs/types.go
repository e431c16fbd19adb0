// Copyright 2018-2021 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cbfs

import "encoding/binary"

type Compression uint32

const (
	None Compression = iota
	LZMA
	LZ4
)

var Endian = binary.BigEndian

// These are standard component types for well known components (those
// coreboot needs to consume). Users are welcome to use any other value for
// their own components.
type FileType uint32

const (
	TypeDeleted2    FileType = 0xffffffff
	TypeDeleted     FileType = 0
	TypeBootBlock   FileType = 0x1
	TypeMaster      FileType = 0x2
	TypeLegacyStage FileType = 0x10
	TypeStage       FileType = 0x11
	TypeSELF        FileType = 0x20
	TypeFIT         FileType = 0x21
	TypeOptionRom   FileType = 0x30
	TypeBootSplash  FileType = 0x40
	TypeRaw         FileType = 0x50
	TypeVSA         FileType = 0x51 // very, very obsolete Geode thing
	TypeMBI         FileType = 0x52
	TypeMicroCode   FileType = 0x53
	TypeFSP         FileType = 0x60
	TypeMRC         FileType = 0x61
	TypeMMA         FileType = 0x62
	TypeEFI         FileType = 0x63
	TypeStruct      FileType = 0x70
	TypeCMOS        FileType = 0xaa
	TypeSPD         FileType = 0xab
	TypeMRCCache    FileType = 0xac
	TypeCMOSLayout  FileType = 0x1aa
)

const (
	HeaderMagic   = 0x4F524243
	HeaderV1      = 0x31313131
	HeaderV2      = 0x31313132
	HeaderVersion = HeaderV2
	Alignment     = 64
)

// This is a component header - every entry in the CBFS area starts with one:
//
//	--------------   <- 0
//	component header
//	--------------   <- sizeof(struct component)
//	component name
//	--------------   <- offset
//	data
//	...
//	--------------   <- offset + len
const FileMagic = "LARCHIVE"

const FileSize = 24

type FileHeader struct {
	Magic           [8]byte
	Size            uint32
	Type            FileType
	AttrOffset      uint32
	SubHeaderOffset uint32
}

type File struct {
	FileHeader
	RecordStart uint32
	Name        string
	Attr        []byte
	FData       []byte
}

// The common fields of extended cbfs file attributes. Attributes are
// expected to start with tag/len, then append their specific fields.
type FileAttr struct {
	Tag  uint32
	Size uint32 // inclusive of Tag and Size
}

type Tag uint32

const (
	Unused     Tag = 0
	Unused2    Tag = 0xffffffff
	Compressed Tag = 0x42435a4c
	Hash       Tag = 0x68736148
	PSCB       Tag = 0x42435350
	ALCB       Tag = 0x42434c41
	SHCB       Tag = 0x53746748
)

type FileAttrCompression struct {
	Tag              Tag
	Size             uint32
	Compression      Compression
	DecompressedSize uint32
}
