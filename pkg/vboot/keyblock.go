// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vboot

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
)

// PackedKey is a vboot packed public key: algorithm/version metadata plus
// the raw key material. The real on-flash encoding is a custom big-number
// word array, not DER; this repo does not reimplement that conversion (see
// the package doc comment) and instead stores KeyData as an opaque blob that
// a Verifier implementation is responsible for interpreting.
type PackedKey struct {
	AlgorithmID uint32
	KeyVersion  uint32
	KeyData     []byte
}

type packedKeyHeader struct {
	KeyOffset   uint32
	KeySize     uint32
	AlgorithmID uint32
	KeyVersion  uint32
}

// parsePackedKey validates and parses a packed key blob. The "packed-key
// sanity predicate" from spec.md §4.B: key_offset/key_size must describe a
// range inside blob, and key_size must be non-zero.
func parsePackedKey(blob []byte) (*PackedKey, error) {
	if len(blob) < 16 {
		return nil, fmt.Errorf("%w: packed key blob too short (%d bytes)", ErrInvalid, len(blob))
	}
	var h packedKeyHeader
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if h.KeySize == 0 {
		return nil, fmt.Errorf("%w: packed key has zero size", ErrInvalid)
	}
	end := uint64(h.KeyOffset) + uint64(h.KeySize)
	if end > uint64(len(blob)) {
		return nil, fmt.Errorf("%w: packed key data (%d..%d) exceeds blob of %d bytes", ErrInvalid, h.KeyOffset, end, len(blob))
	}
	return &PackedKey{
		AlgorithmID: h.AlgorithmID,
		KeyVersion:  h.KeyVersion,
		KeyData:     append([]byte(nil), blob[h.KeyOffset:end]...),
	}, nil
}

// signatureHeader mirrors vb2_signature: an offset/size pair describing
// signature bytes that follow a structure, plus the size of the data that
// was signed.
type signatureHeader struct {
	SigOffset uint32
	SigSize   uint32
	DataSize  uint32
}

// keyblockHeader mirrors the fixed-width prefix of vb2_keyblock.
type keyblockHeader struct {
	Magic               [8]byte
	HeaderVersionMajor  uint32
	HeaderVersionMinor  uint32
	KeyblockSize        uint32
	KeyblockSignature   signatureHeader
	KeyblockChecksum    signatureHeader
	KeyblockFlags       uint32
	DataKey             packedKeyHeader
}

// preambleHeader mirrors the fixed-width prefix of vb2_fw_preamble.
type preambleHeader struct {
	HeaderVersionMajor uint32
	HeaderVersionMinor uint32
	PreambleSize       uint32
	PreambleSignature  signatureHeader
	FirmwareVersion    uint32
}

// KeyblockMagic is the fixed magic vb2_keyblock begins with.
var KeyblockMagic = [8]byte{'C', 'H', 'R', 'O', 'M', 'E', 'O', 'S'}

const (
	keyblockHeaderSize = 8 + 4 + 4 + 4 + 12 + 12 + 4 + 16
	preambleHeaderSize = 4 + 4 + 4 + 12 + 4
	minSlotSize         = keyblockHeaderSize + preambleHeaderSize
)

// Keyblock is a parsed (keyblock, preamble) pair found at the start of a
// VBLOCK_* section, per spec.md §3.
type Keyblock struct {
	raw []byte // the keyblock bytes only, length KeyblockSize

	DataKey         PackedKey
	FirmwareVersion uint32

	signedData   []byte // the bytes keyblockSignature was computed over
	signature    []byte
}

// GetKeyblock parses buf (a VBLOCK_* section) into its keyblock and
// preamble. Per spec.md §4.B the section must be at least
// sizeof(keyblock)+sizeof(preamble) bytes.
func GetKeyblock(buf []byte) (*Keyblock, error) {
	if len(buf) < minSlotSize {
		return nil, fmt.Errorf("%w: vblock section is %d bytes, need at least %d", ErrInvalid, len(buf), minSlotSize)
	}
	var kh keyblockHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &kh); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if kh.Magic != KeyblockMagic {
		return nil, fmt.Errorf("%w: bad keyblock magic", ErrInvalid)
	}
	if uint64(kh.KeyblockSize) > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: keyblock size %d exceeds section of %d bytes", ErrInvalid, kh.KeyblockSize, len(buf))
	}

	dataKeyStart := keyblockHeaderSize
	dataKeyEnd := uint64(dataKeyStart) + uint64(kh.DataKey.KeySize)
	if dataKeyEnd > uint64(kh.KeyblockSize) {
		return nil, fmt.Errorf("%w: data key exceeds keyblock", ErrInvalid)
	}
	dataKey := PackedKey{
		AlgorithmID: kh.DataKey.AlgorithmID,
		KeyVersion:  kh.DataKey.KeyVersion,
		KeyData:     append([]byte(nil), buf[uint64(dataKeyStart)+uint64(kh.DataKey.KeyOffset):dataKeyEnd]...),
	}

	sigEnd := uint64(kh.KeyblockSignature.SigOffset) + uint64(kh.KeyblockSignature.SigSize)
	if sigEnd > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: keyblock signature exceeds section", ErrInvalid)
	}
	signature := append([]byte(nil), buf[kh.KeyblockSignature.SigOffset:sigEnd]...)

	if uint64(kh.KeyblockSignature.DataSize) > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: keyblock signed-data size exceeds section", ErrInvalid)
	}
	signedData := append([]byte(nil), buf[:kh.KeyblockSignature.DataSize]...)

	preambleStart := int(kh.KeyblockSize)
	if preambleStart+preambleHeaderSize > len(buf) {
		return nil, fmt.Errorf("%w: no room for firmware preamble after keyblock", ErrInvalid)
	}
	var ph preambleHeader
	if err := binary.Read(bytes.NewReader(buf[preambleStart:]), binary.LittleEndian, &ph); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return &Keyblock{
		raw:             append([]byte(nil), buf[:kh.KeyblockSize]...),
		DataKey:         dataKey,
		FirmwareVersion: ph.FirmwareVersion,
		signedData:      signedData,
		signature:       signature,
	}, nil
}

// KeyVersions returns (data_key_version, firmware_version) read from the
// keyblock and preamble, per spec.md §4.B get_key_versions.
func KeyVersions(buf []byte) (dataKeyVersion, firmwareVersion uint32, err error) {
	kb, err := GetKeyblock(buf)
	if err != nil {
		return 0, 0, err
	}
	return kb.DataKey.KeyVersion, kb.FirmwareVersion, nil
}

// Verifier verifies a keyblock's signature against a root key. The real
// vboot RSA/SHA primitives are an external collaborator per spec.md §1; this
// interface is the seam the core consumes them through.
type Verifier interface {
	Verify(signedData, signature []byte, key *PackedKey) error
}

// ErrSignatureInvalid is returned by a Verifier when the signature does not
// check out.
var ErrSignatureInvalid = errors.New("vboot: keyblock signature invalid")

// StdlibRSAVerifier is the default Verifier: it treats KeyData as a DER
// (PKIX or PKCS1) encoded RSA public key and verifies a PKCS1v15/SHA-256
// signature. Real vboot packed keys are NOT DER-encoded (they are raw
// big-number word arrays with a Montgomery reduction constant); a caller
// talking to real ChromeOS images must supply a Verifier that does the
// vboot-specific conversion. StdlibRSAVerifier exists so this package is
// independently testable and so DER-packaged keys (as produced by this
// repo's own test fixtures) work out of the box.
type StdlibRSAVerifier struct{}

// Verify implements Verifier.
func (StdlibRSAVerifier) Verify(signedData, signature []byte, key *PackedKey) error {
	pub, err := parseRSAPublicKey(key.KeyData)
	if err != nil {
		return fmt.Errorf("vboot: parsing root key: %w", err)
	}
	digest := sha256.Sum256(signedData)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return pub, nil
	}
	any, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := any.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, not RSA", any)
	}
	return pub, nil
}

// VerifyKeyblock re-runs verification on a fresh copy of the keyblock's
// signed bytes, since verification may mutate its input (spec.md §4.B
// rationale): idempotence and safety against destructive verifiers.
func VerifyKeyblock(block *Keyblock, key *PackedKey, v Verifier) error {
	signedData := append([]byte(nil), block.signedData...)
	signature := append([]byte(nil), block.signature...)
	return v.Verify(signedData, signature, key)
}
