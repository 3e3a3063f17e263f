package xrpl

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // account IDs are defined over RIPEMD-160
)

const ed25519PublicKeyPrefix = 0xED

// ErrInvalidSignature is returned by Verify for a signature that does not match.
var ErrInvalidSignature = errors.New("xrpl: invalid signature")

// Keypair is the signing identity derived from a family seed.
type Keypair struct {
	algo    Algorithm
	public  []byte
	edKey   ed25519.PrivateKey
	secpKey *secp256k1.PrivateKey
}

// GenerateSeed draws fresh entropy from r (crypto/rand when nil) and encodes it as a seed.
func GenerateSeed(r io.Reader, algo Algorithm) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	var entropy [16]byte
	if _, err := io.ReadFull(r, entropy[:]); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return EncodeSeed(entropy, algo), nil
}

// DeriveKeypair derives the account keypair for a family seed.
func DeriveKeypair(seed string) (Keypair, error) {
	entropy, algo, err := DecodeSeed(strings.TrimSpace(seed))
	if err != nil {
		return Keypair{}, err
	}
	if algo == Ed25519 {
		priv := ed25519.NewKeyFromSeed(sha512Half(entropy[:]))
		pub := append([]byte{ed25519PublicKeyPrefix}, priv.Public().(ed25519.PublicKey)...)
		return Keypair{algo: Ed25519, public: pub, edKey: priv}, nil
	}

	root := deriveScalar(entropy[:], nil)
	rootPub := secp256k1.NewPrivateKey(&root).PubKey().SerializeCompressed()
	// account family index 0
	inter := deriveScalar(rootPub, []byte{0, 0, 0, 0})
	var master secp256k1.ModNScalar
	master.Set(&root).Add(&inter)
	key := secp256k1.NewPrivateKey(&master)
	return Keypair{algo: Secp256k1, public: key.PubKey().SerializeCompressed(), secpKey: key}, nil
}

// deriveScalar hashes input||extra||seq for increasing seq until the digest
// is a valid non-zero scalar below the curve order.
func deriveScalar(input, extra []byte) secp256k1.ModNScalar {
	var scalar secp256k1.ModNScalar
	buf := make([]byte, 0, len(input)+len(extra)+4)
	for seq := uint32(0); ; seq++ {
		buf = append(buf[:0], input...)
		buf = append(buf, extra...)
		buf = binary.BigEndian.AppendUint32(buf, seq)
		overflow := scalar.SetByteSlice(sha512Half(buf))
		if !overflow && !scalar.IsZero() {
			return scalar
		}
	}
}

// Algorithm returns the signing scheme.
func (k Keypair) Algorithm() Algorithm { return k.algo }

// PublicKey returns the 33-byte ledger encoding of the public key.
func (k Keypair) PublicKey() []byte { return append([]byte(nil), k.public...) }

// PublicKeyHex is the uppercase hex form used in SigningPubKey.
func (k Keypair) PublicKeyHex() string { return strings.ToUpper(hex.EncodeToString(k.public)) }

// AccountID is RIPEMD160(SHA256(public key)).
func (k Keypair) AccountID() [20]byte {
	return AccountIDFromPublicKey(k.public)
}

// Address is the classic address for the keypair.
func (k Keypair) Address() string { return EncodeAddress(k.AccountID()) }

// Sign signs message. Both schemes are deterministic for a given key and message.
func (k Keypair) Sign(message []byte) ([]byte, error) {
	switch k.algo {
	case Ed25519:
		return ed25519.Sign(k.edKey, message), nil
	case Secp256k1:
		sig := secpecdsa.Sign(k.secpKey, sha512Half(message))
		return sig.Serialize(), nil
	default:
		return nil, errors.New("xrpl: keypair not initialised")
	}
}

// Verify checks signature against message for the given ledger-encoded public key.
func Verify(publicKey, message, signature []byte) error {
	if len(publicKey) == 33 && publicKey[0] == ed25519PublicKeyPrefix {
		if ed25519.Verify(ed25519.PublicKey(publicKey[1:]), message, signature) {
			return nil
		}
		return ErrInvalidSignature
	}
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	sig, err := secpecdsa.ParseDERSignature(signature)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if !sig.Verify(sha512Half(message), pub) {
		return ErrInvalidSignature
	}
	return nil
}

// AccountIDFromPublicKey hashes a ledger-encoded public key into an account ID.
func AccountIDFromPublicKey(pub []byte) [20]byte {
	sha := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(sha[:])
	var id [20]byte
	copy(id[:], h.Sum(nil))
	return id
}

func sha512Half(b []byte) []byte {
	sum := sha512.Sum512(b)
	return sum[:32]
}
