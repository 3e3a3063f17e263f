// Package xrpl implements the parts of the XRP Ledger wire format the wallet
// core needs: base58 address and seed codecs, key derivation, amounts,
// canonical binary serialization and transaction hashing.
package xrpl

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const ledgerAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

var alphabet = base58.NewAlphabet(ledgerAlphabet)

var (
	// ErrChecksum indicates a base58check payload whose checksum does not match.
	ErrChecksum = errors.New("xrpl: checksum mismatch")
	// ErrEncoding indicates a malformed base58 string or an unexpected version prefix.
	ErrEncoding = errors.New("xrpl: invalid encoding")
)

var (
	accountIDPrefix     = []byte{0x00}
	secp256k1SeedPrefix = []byte{0x21}
	ed25519SeedPrefix   = []byte{0x01, 0xE1, 0x4B}
)

// Algorithm names the signing scheme a seed derives keys for.
type Algorithm string

const (
	Ed25519   Algorithm = "ed25519"
	Secp256k1 Algorithm = "secp256k1"
)

// ParseAlgorithm accepts the configuration spelling of an algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case Ed25519, Secp256k1:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("xrpl: unknown key algorithm %q", s)
	}
}

// EncodeAddress renders a 20-byte account ID as a classic "r..." address.
func EncodeAddress(accountID [20]byte) string {
	return encodeCheck(accountIDPrefix, accountID[:])
}

// DecodeAddress parses a classic address back into its account ID.
func DecodeAddress(address string) ([20]byte, error) {
	var id [20]byte
	payload, err := decodeCheck(address, accountIDPrefix, len(id))
	if err != nil {
		return id, fmt.Errorf("decode address %q: %w", address, err)
	}
	copy(id[:], payload)
	return id, nil
}

// IsValidAddress reports whether s is a well-formed classic address.
func IsValidAddress(s string) bool {
	_, err := DecodeAddress(s)
	return err == nil
}

// EncodeSeed renders 16 bytes of entropy as a family seed for algo.
func EncodeSeed(entropy [16]byte, algo Algorithm) string {
	if algo == Ed25519 {
		return encodeCheck(ed25519SeedPrefix, entropy[:])
	}
	return encodeCheck(secp256k1SeedPrefix, entropy[:])
}

// DecodeSeed parses a family seed, detecting the algorithm from its prefix.
func DecodeSeed(seed string) ([16]byte, Algorithm, error) {
	var entropy [16]byte
	if payload, err := decodeCheck(seed, ed25519SeedPrefix, len(entropy)); err == nil {
		copy(entropy[:], payload)
		return entropy, Ed25519, nil
	}
	payload, err := decodeCheck(seed, secp256k1SeedPrefix, len(entropy))
	if err != nil {
		return entropy, "", err
	}
	copy(entropy[:], payload)
	return entropy, Secp256k1, nil
}

func encodeCheck(prefix, payload []byte) string {
	buf := make([]byte, 0, len(prefix)+len(payload)+4)
	buf = append(buf, prefix...)
	buf = append(buf, payload...)
	sum := checksum(buf)
	buf = append(buf, sum[:]...)
	return base58.EncodeAlphabet(buf, alphabet)
}

func decodeCheck(s string, prefix []byte, size int) ([]byte, error) {
	if s == "" {
		return nil, ErrEncoding
	}
	raw, err := base58.DecodeAlphabet(s, alphabet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(raw) != len(prefix)+size+4 {
		return nil, ErrEncoding
	}
	if !bytes.Equal(raw[:len(prefix)], prefix) {
		return nil, ErrEncoding
	}
	body, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	want := checksum(body)
	if !bytes.Equal(sum, want[:]) {
		return nil, ErrChecksum
	}
	return body[len(prefix):], nil
}

func checksum(b []byte) [4]byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}
