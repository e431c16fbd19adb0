// Copyright 2017-2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fmap parses the flash map (FMAP) that names the byte ranges of an
// AP firmware image and exposes them as named sections.
package fmap

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signature is the byte sequence that marks the start of an FMAP header.
var Signature = []byte("__FMAP__")

// Flags which can be applied to Area.Flags.
const (
	AreaStatic = 1 << iota
	AreaCompressed
	AreaReadOnly
)

const headerVerMajor = 1

// String wraps a fixed-size byte array so it (de)serializes as a Go string
// in JSON while remaining a fixed-width field on the wire.
type String struct {
	Value [32]uint8
}

func (s *String) String() string {
	return strings.TrimRight(string(s.Value[:]), "\x00")
}

// MarshalJSON implements json.Marshaler.
func (s *String) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *String) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	if len(str) > len(s.Value) {
		return fmt.Errorf("fmap: name %q longer than %d bytes", str, len(s.Value))
	}
	copy(s.Value[:], []byte(str))
	return nil
}

// Header describes the flash part as a whole.
type Header struct {
	Signature [8]uint8
	VerMajor  uint8
	VerMinor  uint8
	Base      uint64
	Size      uint32
	Name      String
	NAreas    uint16
}

// Area describes one named region of flash.
type Area struct {
	Offset uint32
	Size   uint32
	Name   String
	Flags  uint16
}

// FMap is the parsed flash map: a header plus its areas.
type FMap struct {
	Header
	Areas []Area

	// Start is the byte offset within the buffer the map was parsed from
	// where the __FMAP__ signature was found.
	Start int
}

// Section is a named, non-owning view into an image buffer. It stays valid
// only as long as the buffer it was derived from is not resized or reloaded;
// callers re-derive it from the FMap and the current buffer rather than
// storing the resulting byte slice across mutations.
type Section struct {
	Name   string
	Offset uint32
	Size   uint32
}

// End returns Offset+Size.
func (s Section) End() uint32 { return s.Offset + s.Size }

func headerValid(h *Header) bool {
	if h.VerMajor != headerVerMajor {
		return false
	}
	if h.Size == 0 {
		return false
	}
	// Name is specified to be a NUL-terminated string without embedded
	// spaces; a header with no NUL anywhere in the field is not a name.
	return bytes.Contains(h.Name.Value[:], []byte("\x00"))
}

// FlagNames returns a human readable rendering of an Area's flags, e.g. for
// verbose diagnostics.
func FlagNames(flags uint16) string {
	names := []string{}
	known := []struct {
		val  uint16
		name string
	}{
		{AreaStatic, "STATIC"},
		{AreaCompressed, "COMPRESSED"},
		{AreaReadOnly, "READ_ONLY"},
	}
	for _, k := range known {
		if k.val&flags != 0 {
			names = append(names, k.name)
			flags -= k.val
		}
	}
	if flags != 0 || len(names) == 0 {
		names = append(names, fmt.Sprintf("%#x", flags))
	}
	return strings.Join(names, "|")
}

var (
	// ErrSignatureNotFound is returned when no __FMAP__ header is present.
	ErrSignatureNotFound = errors.New("fmap: signature not found")
	// ErrMultipleHeaders is returned when more than one valid header exists.
	ErrMultipleHeaders = errors.New("fmap: multiple valid headers found")
	// ErrTruncated is returned when the buffer ends inside a header/area.
	ErrTruncated = errors.New("fmap: truncated while parsing")
)

// ErrSectionMissing is returned by Section when the named area is absent.
type ErrSectionMissing struct{ Name string }

func (e *ErrSectionMissing) Error() string {
	return fmt.Sprintf("fmap: section %q not found", e.Name)
}

// Read locates and parses the flash map inside buf. It scans for __FMAP__
// and accepts the input iff exactly one valid header is found.
func Read(buf []byte) (*FMap, error) {
	start := 0
	found := 0
	var result FMap
	for {
		if start >= len(buf) {
			break
		}
		next := bytes.Index(buf[start:], Signature)
		if next == -1 {
			break
		}
		start += next

		r := bytes.NewReader(buf[start:])
		var candidate FMap
		if err := binary.Read(r, binary.LittleEndian, &candidate.Header); err != nil {
			start += len(Signature)
			continue
		}
		if !headerValid(&candidate.Header) {
			start += len(Signature)
			continue
		}
		candidate.Areas = make([]Area, candidate.NAreas)
		if err := binary.Read(r, binary.LittleEndian, &candidate.Areas); err != nil {
			return nil, ErrTruncated
		}
		candidate.Start = start
		result = candidate
		found++
		start += len(Signature)
	}
	switch {
	case found == 0:
		return nil, ErrSignatureNotFound
	case found > 1:
		return nil, ErrMultipleHeaders
	default:
		return &result, nil
	}
}

// Find returns the named area as a Section, and whether it was present.
func (f *FMap) Find(name string) (Section, bool) {
	for _, a := range f.Areas {
		if a.Name.String() == name {
			return Section{Name: name, Offset: a.Offset, Size: a.Size}, true
		}
	}
	return Section{}, false
}

// Exists reports whether the named area is present.
func (f *FMap) Exists(name string) bool {
	_, ok := f.Find(name)
	return ok
}

// Section returns the named area, or ErrSectionMissing.
func (f *FMap) Section(name string) (Section, error) {
	s, ok := f.Find(name)
	if !ok {
		return Section{}, &ErrSectionMissing{Name: name}
	}
	return s, nil
}

// Bytes returns the section's slice of buf. It panics if the section does
// not fit in buf, which would indicate an FMap parsed against a different
// (shorter) buffer than the one passed here.
func (s Section) Bytes(buf []byte) []byte {
	return buf[s.Offset:s.End()]
}
