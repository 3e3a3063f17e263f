package xrpl

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const (
	typeUInt16    = 1
	typeUInt32    = 2
	typeAmount    = 6
	typeBlob      = 7
	typeAccountID = 8
)

var (
	prefixTxSign = []byte{'S', 'T', 'X', 0x00}
	prefixTxID   = []byte{'T', 'X', 'N', 0x00}
)

type field struct {
	typeCode  int
	fieldCode int
	value     []byte
}

func (f field) header() []byte {
	switch {
	case f.typeCode < 16 && f.fieldCode < 16:
		return []byte{byte(f.typeCode<<4 | f.fieldCode)}
	case f.typeCode < 16:
		return []byte{byte(f.typeCode << 4), byte(f.fieldCode)}
	case f.fieldCode < 16:
		return []byte{byte(f.fieldCode), byte(f.typeCode)}
	default:
		return []byte{0, byte(f.typeCode), byte(f.fieldCode)}
	}
}

// Encode serializes a (usually signed) transaction into its canonical blob.
func Encode(tx Transaction) ([]byte, error) {
	return serialize(tx, false)
}

// SigningPayload is the byte string a signature covers.
func SigningPayload(tx Transaction) ([]byte, error) {
	body, err := serialize(tx, true)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), prefixTxSign...), body...), nil
}

// HashBlob returns the transaction ID of a signed blob as uppercase hex.
func HashBlob(blob []byte) string {
	payload := append(append([]byte(nil), prefixTxID...), blob...)
	return strings.ToUpper(hex.EncodeToString(sha512Half(payload)))
}

// Sign sets SigningPubKey and TxnSignature on tx and returns the signed blob
// and its hash. The keypair must control tx's Account.
func Sign(tx Transaction, kp Keypair) (blob []byte, hash string, err error) {
	base := tx.Base()
	if kp.Address() != base.Account {
		return nil, "", fmt.Errorf("%w: key for %s cannot sign for %s", ErrInvalidTransaction, kp.Address(), base.Account)
	}
	base.SigningPubKey = kp.PublicKey()
	base.TxnSignature = nil
	payload, err := SigningPayload(tx)
	if err != nil {
		return nil, "", err
	}
	sig, err := kp.Sign(payload)
	if err != nil {
		return nil, "", err
	}
	base.TxnSignature = sig
	blob, err = Encode(tx)
	if err != nil {
		return nil, "", err
	}
	return blob, HashBlob(blob), nil
}

func serialize(tx Transaction, signing bool) ([]byte, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	base := tx.Base()
	account, err := DecodeAddress(base.Account)
	if err != nil {
		return nil, err
	}
	fs := []field{
		{typeUInt16, 2, binary.BigEndian.AppendUint16(nil, uint16(tx.Type()))},
		{typeUInt32, 2, u32(base.Flags)},
		{typeUInt32, 4, u32(base.Sequence)},
		{typeAmount, 8, NativeAmount(base.Fee).mustEncodeNative()},
		{typeBlob, 3, vl(base.SigningPubKey)},
		{typeAccountID, 1, vl(account[:])},
	}
	if base.LastLedgerSequence != 0 {
		fs = append(fs, field{typeUInt32, 27, u32(base.LastLedgerSequence)})
	}
	if !signing && len(base.TxnSignature) > 0 {
		fs = append(fs, field{typeBlob, 4, vl(base.TxnSignature)})
	}
	specific, err := tx.fields()
	if err != nil {
		return nil, err
	}
	fs = append(fs, specific...)

	sort.Slice(fs, func(i, j int) bool {
		if fs[i].typeCode != fs[j].typeCode {
			return fs[i].typeCode < fs[j].typeCode
		}
		return fs[i].fieldCode < fs[j].fieldCode
	})

	var out []byte
	for _, f := range fs {
		out = append(out, f.header()...)
		out = append(out, f.value...)
	}
	return out, nil
}

func (a Amount) mustEncodeNative() []byte {
	return binary.BigEndian.AppendUint64(nil, a.Drops|positiveBit)
}

func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

// vl prefixes b with its variable-length header.
func vl(b []byte) []byte {
	n := len(b)
	var head []byte
	switch {
	case n <= 192:
		head = []byte{byte(n)}
	case n <= 12480:
		n -= 193
		head = []byte{byte(193 + n>>8), byte(n & 0xff)}
	default:
		n -= 12481
		head = []byte{byte(241 + n>>16), byte(n >> 8 & 0xff), byte(n & 0xff)}
	}
	return append(head, b...)
}
