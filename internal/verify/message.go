// Package verify checks Bitcoin signed messages (BIP137 headers) against a
// claimed P2PKH, P2SH-P2WPKH or P2WPKH address. Segwit addresses also accept
// the compressed P2PKH header, which Electrum-style wallets emit for them.
package verify

import (
	"bytes"
	"encoding/base64"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const messageMagic = "Bitcoin Signed Message:\n"

// Header byte ranges. Each range holds four recovery ids.
const (
	headerUncompressedP2PKH = 27
	headerCompressedP2PKH   = 31
	headerP2SHP2WPKH        = 35
	headerP2WPKH            = 39
	headerEnd               = 43

	compactSigLen = 65
)

// addressKind is the address type a header commits to.
type addressKind int

const (
	kindP2PKHUncompressed addressKind = iota
	kindP2PKHCompressed
	kindP2SHP2WPKH
	kindP2WPKH
)

// MessageHash returns the double SHA-256 of the magic-prefixed message.
func MessageHash(message string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// Message reports whether signature (base64, 65 bytes) was produced over
// message by the key behind address. It never panics or errors; any
// malformed input yields false.
func Message(message, signature, address string, params *chaincfg.Params) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != compactSigLen {
		slog.Debug("signed message rejected", "reason", "bad signature encoding", "address", address)
		return false
	}

	header := sig[0]
	if header < headerUncompressedP2PKH || header >= headerEnd {
		slog.Debug("signed message rejected", "reason", "bad header", "header", header)
		return false
	}
	kind := addressKind((header - headerUncompressedP2PKH) / 4)

	// RecoverCompact only understands the P2PKH header ranges; segwit
	// headers are the compressed range shifted up.
	compact := make([]byte, compactSigLen)
	copy(compact, sig)
	switch kind {
	case kindP2SHP2WPKH:
		compact[0] = header - 4
	case kindP2WPKH:
		compact[0] = header - 8
	}

	pub, compressed, err := ecdsa.RecoverCompact(compact, MessageHash(message))
	if err != nil {
		slog.Debug("signed message rejected", "reason", "recovery failed", "error", err)
		return false
	}
	if (kind == kindP2PKHUncompressed) == compressed {
		return false
	}

	claimed, err := btcutil.DecodeAddress(address, params)
	if err != nil || !claimed.IsForNet(params) {
		slog.Debug("signed message rejected", "reason", "bad address", "address", address)
		return false
	}

	return matches(claimed, kind, pub, params)
}

func matches(claimed btcutil.Address, kind addressKind, pub *btcec.PublicKey, params *chaincfg.Params) bool {
	switch addr := claimed.(type) {
	case *btcutil.AddressPubKeyHash:
		var serialized []byte
		switch kind {
		case kindP2PKHUncompressed:
			serialized = pub.SerializeUncompressed()
		case kindP2PKHCompressed:
			serialized = pub.SerializeCompressed()
		default:
			return false
		}
		return bytes.Equal(btcutil.Hash160(serialized), addr.ScriptAddress())

	case *btcutil.AddressScriptHash:
		if kind != kindP2SHP2WPKH && kind != kindP2PKHCompressed {
			return false
		}
		witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
		if err != nil {
			return false
		}
		redeem, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return false
		}
		return bytes.Equal(btcutil.Hash160(redeem), addr.ScriptAddress())

	case *btcutil.AddressWitnessPubKeyHash:
		if kind != kindP2WPKH && kind != kindP2PKHCompressed {
			return false
		}
		return bytes.Equal(btcutil.Hash160(pub.SerializeCompressed()), addr.ScriptAddress())

	default:
		return false
	}
}
