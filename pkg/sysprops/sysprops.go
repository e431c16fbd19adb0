// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sysprops is the lazy, caching system-properties oracle spec.md
// §4.C describes: six integer-valued cells, each with a getter invoked at
// most once per configuration lifetime, and an override mechanism that lets
// tests (or the --sys_props flag) bypass the getter entirely.
//
// Grounded on the per-field lazy-init pattern the teacher's pkg/cbfs uses for
// SegReaders (register-once, read-on-demand), generalized here to six fixed
// properties rather than an open registry, since spec.md's property set is
// closed.
package sysprops

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Property identifies one of the six system properties spec.md §4.C names.
type Property int

const (
	MainFWAct Property = iota
	TPMFwver
	FwVboot2
	PlatformVer
	WPHw
	WPSw

	numProperties
)

func (p Property) String() string {
	switch p {
	case MainFWAct:
		return "mainfw_act"
	case TPMFwver:
		return "tpm_fwver"
	case FwVboot2:
		return "fw_vboot2"
	case PlatformVer:
		return "platform_ver"
	case WPHw:
		return "wp_hw"
	case WPSw:
		return "wp_sw"
	default:
		return fmt.Sprintf("property(%d)", int(p))
	}
}

// mainfw_act values, carried as plain ints per spec.md §4.C so MainFWAct
// shares the cell machinery the other five properties use.
const (
	ActA = iota
	ActB
	ActUnknown
)

// MainFWActString renders a mainfw_act int value as "A", "B", or "unknown".
func MainFWActString(v int) string {
	switch v {
	case ActA:
		return "A"
	case ActB:
		return "B"
	default:
		return "unknown"
	}
}

// Getter produces a property's value on first access.
type Getter func() (int, error)

type cell struct {
	getter      Getter
	value       int
	err         error
	initialized bool
}

// Properties is the system properties oracle: one cell per Property, each
// lazily populated from its Getter exactly once, or eagerly populated by
// Override.
type Properties struct {
	cells [numProperties]cell
}

// New returns a Properties oracle with the given getter for each property.
// A nil getter for a property that is never Get() before being Overridden is
// fine; calling Get on a cell with no getter and no override is a caller
// error (returns an error, not a panic).
func New(getters [numProperties]Getter) *Properties {
	p := &Properties{}
	for i := range p.cells {
		p.cells[i].getter = getters[i]
	}
	return p
}

// Get returns the cached value for p, invoking and caching its getter on
// first access. Per spec.md §4.C, the getter is invoked exactly once per
// configuration lifetime.
func (props *Properties) Get(p Property) (int, error) {
	c := &props.cells[p]
	if c.initialized {
		return c.value, c.err
	}
	if c.getter == nil {
		return 0, fmt.Errorf("sysprops: no getter registered for %s", p)
	}
	c.value, c.err = c.getter()
	c.initialized = true
	return c.value, c.err
}

// Override marks p's cell initialized with value, bypassing its getter for
// the remainder of the configuration's lifetime.
func (props *Properties) Override(p Property, value int) {
	props.cells[p] = cell{value: value, initialized: true}
}

// ParseOverrides parses the --sys_props override list: integers separated by
// "," and/or " "; an empty field between commas skips that property; only
// [0-9-] may start a field. Parsing stops (without error) once all
// properties have been assigned, and reports an error if a field cannot be
// parsed as an integer. Per spec.md §4.C, fields are positional, applying in
// Property declaration order (mainfw_act, tpm_fwver, fw_vboot2, platform_ver,
// wp_hw, wp_sw).
func (props *Properties) ParseOverrides(list string) error {
	fields := splitOverrideList(list)
	for i, f := range fields {
		if i >= int(numProperties) {
			break
		}
		if f == "" {
			continue
		}
		if !startsLikeInt(f) {
			return fmt.Errorf("sysprops: override field %q does not start with a digit or '-'", f)
		}
		v, err := strconv.ParseInt(f, 0, 64)
		if err != nil {
			return fmt.Errorf("sysprops: parsing override field %q: %w", f, err)
		}
		props.Override(Property(i), int(v))
	}
	return nil
}

func startsLikeInt(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '-' || (c >= '0' && c <= '9')
}

// splitOverrideList splits on "," and/or " " per spec.md §4.C, preserving an
// empty field for a comma-delimited chunk that is entirely blank (so "0, ,1"
// skips exactly the middle property) while collapsing runs of plain spaces
// within a chunk into separate non-empty fields.
func splitOverrideList(list string) []string {
	var fields []string
	for _, chunk := range strings.Split(list, ",") {
		trimmed := strings.TrimSpace(chunk)
		if trimmed == "" {
			fields = append(fields, "")
			continue
		}
		fields = append(fields, strings.Fields(trimmed)...)
	}
	return fields
}

// DumpTo writes a diagnostic listing of all six properties' current values
// (forcing evaluation of any not-yet-read getter), grounded on
// original_source/futility/updater.c's print_system_properties.
func (props *Properties) DumpTo(w io.Writer) {
	for p := Property(0); p < numProperties; p++ {
		v, err := props.Get(p)
		if err != nil {
			fmt.Fprintf(w, "%s: error: %v\n", p, err)
			continue
		}
		if p == MainFWAct {
			fmt.Fprintf(w, "%s: %s\n", p, MainFWActString(v))
			continue
		}
		fmt.Fprintf(w, "%s: %d\n", p, v)
	}
}

// WriteProtect reports whether the device's effective write protect is
// enabled: wp_hw OR wp_sw, per spec.md §4.G step 6, treating any error
// reading wp_hw as "enabled" before consulting wp_sw.
func (props *Properties) WriteProtect() (bool, error) {
	hw, hwErr := props.Get(WPHw)
	if hwErr != nil || hw != 0 {
		return true, nil
	}
	sw, swErr := props.Get(WPSw)
	if swErr != nil {
		return false, swErr
	}
	return sw != 0, nil
}

// ParseWPStatusLine parses a programmer write-protect status line for the
// substrings "write protect is enabled"/"write protect is disabled", per
// spec.md §4.C.
func ParseWPStatusLine(line string) (enabled bool, ok bool) {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "write protect is enabled"):
		return true, true
	case strings.Contains(l, "write protect is disabled"):
		return false, true
	default:
		return false, false
	}
}

// ParsePlatformVersion parses a "revN" string (the external command's
// output format per spec.md §6) into N, returning -1 on any parse failure
// per spec.md §4.C's platform_ver contract.
func ParsePlatformVersion(s string) int {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "rev") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "rev"))
	if err != nil {
		return -1
	}
	return n
}
