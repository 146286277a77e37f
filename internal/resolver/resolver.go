// Package resolver recovers the address that funded a transaction input from
// whatever signature or witness material the input carries.
package resolver

import (
	"context"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/Fantasim/btcoracle/internal/models"
)

// PrevOutLookup returns the address locked by a previous output. It must be
// backed by the same provider that supplied the input being resolved.
type PrevOutLookup interface {
	Name() string
	PrevOutAddress(ctx context.Context, txid string, vout uint32) (string, error)
}

// Resolver resolves input senders against one provider.
type Resolver struct {
	lookup PrevOutLookup
}

// New returns a resolver whose previous-output lookups go to lookup.
// A nil lookup disables the lookup strategies.
func New(lookup PrevOutLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// ResolveSender tries, in order: the provider's own address annotation, the
// witness, the previous output (for an empty scriptSig), and the last push of
// a legacy scriptSig. The first strategy that yields an address wins.
func (r *Resolver) ResolveSender(ctx context.Context, in models.TxInput, params *chaincfg.Params) (string, bool) {
	if in.Coinbase {
		return "", false
	}

	if in.Address != "" {
		return in.Address, true
	}

	if len(in.Witness) > 0 {
		if addr, ok := fromWitness(in.Witness, params); ok {
			return addr, true
		}
	}

	if len(in.ScriptSig) == 0 {
		return r.fromPrevOut(ctx, in)
	}

	if addr, ok := fromScriptSig(in.ScriptSig, params); ok {
		return addr, true
	}
	return r.fromPrevOut(ctx, in)
}

// fromWitness treats a single element as a redeem script (P2SH) and otherwise
// the second element as the spending public key (P2WPKH).
func fromWitness(witness [][]byte, params *chaincfg.Params) (string, bool) {
	if len(witness) == 1 {
		if len(witness[0]) == 0 {
			return "", false
		}
		addr, err := btcutil.NewAddressScriptHash(witness[0], params)
		if err != nil {
			return "", false
		}
		return addr.EncodeAddress(), true
	}

	pubKey := witness[1]
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return "", false
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), params)
	if err != nil {
		return "", false
	}
	return addr.EncodeAddress(), true
}

// fromScriptSig reads the final data push as a public key and derives its
// P2PKH address.
func fromScriptSig(scriptSig []byte, params *chaincfg.Params) (string, bool) {
	pushes, err := txscript.PushedData(scriptSig)
	if err != nil || len(pushes) == 0 {
		return "", false
	}

	pubKey := pushes[len(pushes)-1]
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return "", false
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), params)
	if err != nil {
		return "", false
	}
	return addr.EncodeAddress(), true
}

func (r *Resolver) fromPrevOut(ctx context.Context, in models.TxInput) (string, bool) {
	if r.lookup == nil || in.PrevTxID == "" {
		return "", false
	}

	addr, err := r.lookup.PrevOutAddress(ctx, in.PrevTxID, in.PrevVout)
	if err != nil {
		slog.Debug("previous output lookup failed",
			"provider", r.lookup.Name(),
			"prevTxid", in.PrevTxID,
			"prevVout", in.PrevVout,
			"error", err,
		)
		return "", false
	}
	return addr, addr != ""
}
