// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testimage builds synthetic FMAP/GBB/keyblock-bearing firmware
// images for tests, in the spirit of fiano's pkg/fmap tests building raw
// flash bytes by hand, but parameterized so every package under pkg/ can
// construct the fixtures spec.md §8's end-to-end scenarios need.
package testimage

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"go.chromium.org/chromiumos/platform/futility-updater/pkg/fmap"
)

// Key is a generated RSA keypair usable as a vboot root/data key in tests.
type Key struct {
	Priv *rsa.PrivateKey
	DER  []byte // PKCS1 public key, embedded as PackedKey.KeyData
}

// NewKey generates a fresh 1024-bit (deliberately small, tests only) RSA key.
func NewKey() (*Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, err
	}
	return &Key{Priv: priv, DER: x509.MarshalPKCS1PublicKey(&priv.PublicKey)}, nil
}

func packedKey(algorithmID, keyVersion uint32, keyData []byte) []byte {
	var buf bytes.Buffer
	hdr := struct {
		KeyOffset   uint32
		KeySize     uint32
		AlgorithmID uint32
		KeyVersion  uint32
	}{16, uint32(len(keyData)), algorithmID, keyVersion}
	binary.Write(&buf, binary.LittleEndian, hdr)
	buf.Write(keyData)
	return buf.Bytes()
}

// PackedKeyBlob wraps key's DER public key as a self-contained packed-key
// blob (header + data) suitable for GBBOptions.RootKey/RecoveryKey, matching
// the layout vboot.parsePackedKey expects.
func PackedKeyBlob(key *Key, keyVersion uint32) []byte {
	return packedKey(1, keyVersion, key.DER)
}

// GBBOptions configures BuildGBB.
type GBBOptions struct {
	HWID        string
	RootKey     []byte // packed-key bytes, e.g. from packedKey(...)
	Flags       uint32
	BmpFV       []byte
	RecoveryKey []byte
}

// BuildGBB returns the bytes of a GBB section satisfying vboot.FindGBB's
// invariants.
func BuildGBB(opt GBBOptions) []byte {
	const headerSize = 0x80
	hwidField := make([]byte, 64)
	copy(hwidField, opt.HWID)

	rootKey := opt.RootKey
	bmpfv := opt.BmpFV
	recKey := opt.RecoveryKey
	if recKey == nil {
		recKey = []byte{0}
	}
	if bmpfv == nil {
		bmpfv = []byte{0}
	}

	hwidOffset := uint32(headerSize)
	rootKeyOffset := hwidOffset + uint32(len(hwidField))
	bmpfvOffset := rootKeyOffset + uint32(len(rootKey))
	recoveryKeyOffset := bmpfvOffset + uint32(len(bmpfv))
	total := recoveryKeyOffset + uint32(len(recKey))

	buf := make([]byte, total)
	copy(buf[0:4], []byte("$GBB"))
	binary.LittleEndian.PutUint16(buf[4:6], 1) // major version
	binary.LittleEndian.PutUint16(buf[6:8], 1) // minor version
	binary.LittleEndian.PutUint32(buf[8:12], headerSize)
	binary.LittleEndian.PutUint32(buf[12:16], hwidOffset)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(hwidField)))
	binary.LittleEndian.PutUint32(buf[20:24], rootKeyOffset)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(rootKey)))
	binary.LittleEndian.PutUint32(buf[28:32], bmpfvOffset)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(len(bmpfv)))
	binary.LittleEndian.PutUint32(buf[36:40], recoveryKeyOffset)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(recKey)))
	binary.LittleEndian.PutUint32(buf[44:48], opt.Flags)

	copy(buf[hwidOffset:], hwidField)
	copy(buf[rootKeyOffset:], rootKey)
	copy(buf[bmpfvOffset:], bmpfv)
	copy(buf[recoveryKeyOffset:], recKey)
	return buf
}

// KeyblockOptions configures BuildVBlock.
type KeyblockOptions struct {
	SigningKey      *Key // signs the keyblock; the image's root key for compatibility checks
	DataKeyVersion  uint32
	FirmwareVersion uint32
}

const (
	keyblockHeaderSize = 64
	preambleHeaderSize = 28
)

// BuildVBlock returns the bytes of a VBLOCK_* section: a keyblock carrying
// a data key, followed by a firmware preamble, signed by opt.SigningKey.
//
// Layout: [keyblockHeader(64)][dataKeyDER][preamble(28)][signature]. The
// data key is embedded directly at keyblockHeaderSize with KeyOffset=0 (no
// further indirection), unlike a GBB's root/recovery key descriptors, which
// point at a separately-packed key blob (see packedKey).
func BuildVBlock(opt KeyblockOptions) []byte {
	keyData := opt.SigningKey.DER
	keyblockSize := uint32(keyblockHeaderSize) + uint32(len(keyData))
	preambleSize := uint32(preambleHeaderSize)

	buf := make([]byte, keyblockSize+preambleSize)

	copy(buf[0:8], []byte("CHROMEOS"))
	binary.LittleEndian.PutUint32(buf[8:12], 1)  // header major
	binary.LittleEndian.PutUint32(buf[12:16], 0) // header minor
	binary.LittleEndian.PutUint32(buf[16:20], keyblockSize)
	// buf[20:32] (KeyblockSignature) is filled in below, before the digest
	// is computed. buf[32:44] (KeyblockChecksum) and buf[44:48]
	// (KeyblockFlags) are left zero.
	binary.LittleEndian.PutUint32(buf[48:52], 0)                    // DataKey.KeyOffset
	binary.LittleEndian.PutUint32(buf[52:56], uint32(len(keyData))) // DataKey.KeySize
	binary.LittleEndian.PutUint32(buf[56:60], 1)                    // DataKey.AlgorithmID
	binary.LittleEndian.PutUint32(buf[60:64], opt.DataKeyVersion)   // DataKey.KeyVersion
	copy(buf[keyblockHeaderSize:], keyData)

	p := buf[keyblockSize:]
	binary.LittleEndian.PutUint32(p[0:4], 1) // header major
	binary.LittleEndian.PutUint32(p[4:8], 0) // header minor
	binary.LittleEndian.PutUint32(p[8:12], preambleSize)
	binary.LittleEndian.PutUint32(p[24:28], opt.FirmwareVersion)

	// The signature header fields (offset/size/data-size) are themselves
	// within the signed range (the first keyblockSize bytes), so they must
	// be filled in with their final values before the digest is computed;
	// all three are known ahead of time without knowing the signature bytes.
	sigSize := uint32(opt.SigningKey.Priv.Size())
	final := make([]byte, uint32(len(buf))+sigSize)
	copy(final, buf)
	sigOffset := uint32(len(final)) - sigSize
	binary.LittleEndian.PutUint32(final[20:24], sigOffset)    // KeyblockSignature.SigOffset
	binary.LittleEndian.PutUint32(final[24:28], sigSize)      // KeyblockSignature.SigSize
	binary.LittleEndian.PutUint32(final[28:32], keyblockSize) // KeyblockSignature.DataSize

	signedData := final[:keyblockSize]
	digest := sha256.Sum256(signedData)
	sig, err := rsa.SignPKCS1v15(rand.Reader, opt.SigningKey.Priv, crypto.SHA256, digest[:])
	if err != nil {
		panic(fmt.Sprintf("testimage: signing keyblock: %v", err))
	}
	copy(final[sigOffset:], sig)

	return final
}

// Section is one named region to place in a BuildImage layout.
type Section struct {
	Name string
	Data []byte
}

// BuildImage lays out the given sections sequentially after a leading FMAP
// header (named "TEST"), returning the full image bytes. Section order in the
// output follows ascending name for determinism, not insertion order.
func BuildImage(sections []Section) []byte {
	sorted := append([]Section(nil), sections...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	type placed struct {
		Section
		offset uint32
	}
	var areas []placed
	offset := uint32(4096) // leave room for the FMAP header itself, placed at 0
	for _, s := range sorted {
		areas = append(areas, placed{s, offset})
		offset += uint32(len(s.Data))
		// keep areas 16-byte aligned for readability in hex dumps.
		if pad := offset % 16; pad != 0 {
			offset += 16 - pad
		}
	}
	total := offset
	buf := make([]byte, total)
	for _, a := range areas {
		copy(buf[a.offset:], a.Data)
	}

	var hdr bytes.Buffer
	hdr.Write(fmap.Signature)
	binary.Write(&hdr, binary.LittleEndian, uint8(1))      // VerMajor
	binary.Write(&hdr, binary.LittleEndian, uint8(0))      // VerMinor
	binary.Write(&hdr, binary.LittleEndian, uint64(0))     // Base
	binary.Write(&hdr, binary.LittleEndian, uint32(total)) // Size
	name := make([]byte, 32)
	copy(name, "TEST")
	hdr.Write(name)
	binary.Write(&hdr, binary.LittleEndian, uint16(len(areas)))
	for _, a := range areas {
		binary.Write(&hdr, binary.LittleEndian, a.offset)
		binary.Write(&hdr, binary.LittleEndian, uint32(len(a.Data)))
		nameField := make([]byte, 32)
		copy(nameField, a.Name)
		hdr.Write(nameField)
		binary.Write(&hdr, binary.LittleEndian, uint16(0)) // Flags
	}
	copy(buf[0:], hdr.Bytes())
	return buf
}

// FWID returns a NUL-padded ASCII firmware id section of the given size.
func FWID(id string, size int) []byte {
	buf := make([]byte, size)
	copy(buf, id)
	return buf
}

// Filled returns a size-byte section filled with b, used to model
// flash-erased (0xFF) regions such as SI_ME.
func Filled(b byte, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func platformPrefix(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i+1]
	}
	return s
}

// PlatformPrefix exposes platformPrefix for tests asserting on it directly.
func PlatformPrefix(s string) string { return platformPrefix(s) }
