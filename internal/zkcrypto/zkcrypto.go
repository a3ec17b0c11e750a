// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package zkcrypto is the boundary to the cryptographic core. Per spec §1
// the zkey transformation is a pure function supplied by an external
// library; this package defines that boundary as an interface and backs
// it with github.com/consensys/gnark-crypto's bn254 field/curve
// arithmetic, the curve Groth16 phase-2 ceremonies for bn254-targeted
// circuits contribute randomness over.
package zkcrypto

import (
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// VerificationResult is the outcome of running the external verification
// primitive over a candidate zkey, including the human-readable transcript
// spec §4.3 step 4 asks for.
type VerificationResult struct {
	Valid      bool
	Transcript []byte
}

// Engine is the cryptographic core adapter: contribute applies a
// participant's randomness to produce the next zkey, verify checks a
// candidate zkey against its predecessor and the ceremony's
// powers-of-tau file, and the two export functions produce the
// finalization artifacts of spec §4.6. Every method is a pure function of
// its inputs; none of them touch the Record Store or Artifact Store.
type Engine interface {
	// Contribute applies entropy to previousZkey, returning the updated
	// zkey bytes. Used client-side during the COMPUTING step; the
	// coordinator itself never calls this (it only verifies).
	Contribute(previousZkey []byte, entropy []byte) ([]byte, error)

	// Verify checks candidateZkey against previousZkey and the circuit's
	// powers-of-tau file, per spec §4.3 step 4.
	Verify(previousZkey, candidateZkey, potFile []byte) (*VerificationResult, error)

	// Beacon produces the deterministic final zkey from the last
	// contributor's zkey and a public beacon value, per spec §4.6.
	Beacon(previousZkey []byte, beaconValue []byte) ([]byte, error)

	// ExportVerificationKey derives the circuit's verification key JSON
	// from the final zkey.
	ExportVerificationKey(finalZkey []byte) ([]byte, error)

	// ExportVerifierContract derives the circuit's Solidity verifier from
	// the final zkey.
	ExportVerifierContract(finalZkey []byte) ([]byte, error)
}

// Blake2b512Hex hashes r with BLAKE2b-512 and returns the lowercase hex
// digest, per spec §4.3 step 5 (hashes of the new zkey and the transcript)
// and §3 (Contribution.files hashes).
func Blake2b512Hex(r io.Reader) (string, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Blake2b512HexBytes is the byte-slice convenience form of Blake2b512Hex.
func Blake2b512HexBytes(b []byte) string {
	sum := blake2b.Sum512(b)
	return fmt.Sprintf("%x", sum[:])
}

// FormatZkeyIndex left-zero-pads k to width, per spec §9's resolved open
// question (FIRST_ZKEY_INDEX's string length is the width).
func FormatZkeyIndex(k int, width int) string {
	return fmt.Sprintf("%0*d", width, k)
}

// ParseZkeyIndex is the inverse of FormatZkeyIndex; it rejects the literal
// "final" (use Contribution.IsFinal for that) and any string that is not
// exactly width digits.
func ParseZkeyIndex(s string, width int) (int, error) {
	if len(s) != width {
		return 0, fmt.Errorf("zkcrypto: index %q is not %d digits wide", s, width)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("zkcrypto: index %q is not %d digits wide", s, width)
		}
	}
	return strconv.Atoi(s)
}
