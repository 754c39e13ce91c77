// Package script classifies Bitcoin locking scripts (scriptPubKey) into
// the recognized address kinds (P2PKH/P2SH/P2WPKH/P2WSH/P2TR) and
// recognizes provably-unspendable outputs.
//
// Classification is done by direct template matching on the script bytes
// rather than full script interpretation — the core trusts the block
// source for transaction semantics and only needs to
// recognize the standard output shapes to build the address index.
package script

import (
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Kind is the closed set of recognized address kinds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindP2PKH
	KindP2SH
	KindP2WPKH
	KindP2WSH
	KindP2TR
)

func (k Kind) String() string {
	switch k {
	case KindP2PKH:
		return "p2pkh"
	case KindP2SH:
		return "p2sh"
	case KindP2WPKH:
		return "p2wpkh"
	case KindP2WSH:
		return "p2wsh"
	case KindP2TR:
		return "p2tr"
	default:
		return "unknown"
	}
}

// MaxAddressLen bounds the encoded address string (90 bytes).
const MaxAddressLen = 90

// IsProvablyUnspendable reports whether a scriptPubKey is statically
// recognizable as unspendable (OP_RETURN being the common case), so the
// output can be omitted from the UTXO set entirely.
func IsProvablyUnspendable(pkScript []byte) bool {
	if len(pkScript) == 0 {
		return false
	}
	if pkScript[0] == txscript.OP_RETURN {
		return true
	}
	// A script longer than the maximum standard consensus script size
	// cannot be satisfied either; treat it the same as unspendable so it
	// never bloats the UTXO set or the address index.
	return len(pkScript) > txscript.MaxScriptSize
}

// ExtractAddress derives the bech32/base58 address string for a
// scriptPubKey when it matches one of the recognized templates. Scripts
// that yield no recognized address are excluded from address indices but
// still stored in the UTXO set.
func ExtractAddress(pkScript []byte, net chainparams.Network) (string, Kind, bool) {
	params := chainparams.ChaincfgParams(net)

	switch {
	case isP2PKH(pkScript):
		hash160 := pkScript[3:23]
		addr, err := btcutil.NewAddressPubKeyHash(hash160, params)
		if err != nil {
			return "", KindUnknown, false
		}
		return addr.EncodeAddress(), KindP2PKH, true

	case isP2SH(pkScript):
		hash160 := pkScript[2:22]
		addr, err := btcutil.NewAddressScriptHashFromHash(hash160, params)
		if err != nil {
			return "", KindUnknown, false
		}
		return addr.EncodeAddress(), KindP2SH, true

	case isP2WPKH(pkScript):
		hash160 := pkScript[2:22]
		addr, err := btcutil.NewAddressWitnessPubKeyHash(hash160, params)
		if err != nil {
			return "", KindUnknown, false
		}
		return addr.EncodeAddress(), KindP2WPKH, true

	case isP2WSH(pkScript):
		hash256 := pkScript[2:34]
		addr, err := btcutil.NewAddressWitnessScriptHash(hash256, params)
		if err != nil {
			return "", KindUnknown, false
		}
		return addr.EncodeAddress(), KindP2WSH, true

	case isP2TR(pkScript):
		outputKey := pkScript[2:34]
		if !isValidTaprootOutputKey(outputKey) {
			return "", KindUnknown, false
		}
		addr, err := btcutil.NewAddressTaproot(outputKey, params)
		if err != nil {
			return "", KindUnknown, false
		}
		return addr.EncodeAddress(), KindP2TR, true

	default:
		return "", KindUnknown, false
	}
}

// isP2PKH matches OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG.
func isP2PKH(s []byte) bool {
	return len(s) == 25 &&
		s[0] == txscript.OP_DUP &&
		s[1] == txscript.OP_HASH160 &&
		s[2] == txscript.OP_DATA_20 &&
		s[23] == txscript.OP_EQUALVERIFY &&
		s[24] == txscript.OP_CHECKSIG
}

// isP2SH matches OP_HASH160 <20> OP_EQUAL.
func isP2SH(s []byte) bool {
	return len(s) == 23 &&
		s[0] == txscript.OP_HASH160 &&
		s[1] == txscript.OP_DATA_20 &&
		s[22] == txscript.OP_EQUAL
}

// isP2WPKH matches OP_0 <20>.
func isP2WPKH(s []byte) bool {
	return len(s) == 22 &&
		s[0] == txscript.OP_0 &&
		s[1] == txscript.OP_DATA_20
}

// isP2WSH matches OP_0 <32>.
func isP2WSH(s []byte) bool {
	return len(s) == 34 &&
		s[0] == txscript.OP_0 &&
		s[1] == txscript.OP_DATA_32
}

// isP2TR matches OP_1 <32>.
func isP2TR(s []byte) bool {
	return len(s) == 34 &&
		s[0] == txscript.OP_1 &&
		s[1] == txscript.OP_DATA_32
}

// isValidTaprootOutputKey reports whether the 32-byte witness program is
// a valid x-only public key — an x coordinate with a point on the curve.
// A program that is not a curve point can never be key- or script-spent,
// so it yields no address entry.
func isValidTaprootOutputKey(outputKey []byte) bool {
	compressed := make([]byte, 0, 33)
	compressed = append(compressed, secp256k1.PubKeyFormatCompressedEven)
	compressed = append(compressed, outputKey...)
	_, err := secp256k1.ParsePubKey(compressed)
	return err == nil
}
