package consensus

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/provider"
	"github.com/Fantasim/btcoracle/internal/resolver"
)

// normalize converts a provider payload into TransactionFacts. Senders are
// resolved against the provider that produced the payload.
func normalize(ctx context.Context, c provider.Client, p *provider.Payload, tracked string, params *chaincfg.Params) (*models.TransactionFacts, error) {
	if p == nil {
		return nil, fmt.Errorf("%s returned an empty payload", c.Name())
	}

	var (
		txHash  string
		inputs  []models.TxInput
		outputs []models.TxOutput
		confs   int64
		height  int64
		err     error
	)

	switch {
	case p.Node != nil:
		txHash = p.Node.Txid
		inputs, err = nodeInputs(p.Node.Vin)
		if err != nil {
			return nil, err
		}
		outputs = nodeOutputs(p, params)
		confs = int64(p.Node.Confirmations)
		if confs > 0 && p.TipHeight > 0 {
			height = p.TipHeight - confs + 1
		}
	case p.Esplora != nil:
		txHash = p.Esplora.TxID
		inputs, err = esploraInputs(p.Esplora.Vin)
		if err != nil {
			return nil, err
		}
		outputs = esploraOutputs(p.Esplora.Vout)
		if p.Esplora.Status.Confirmed && p.Esplora.Status.BlockHeight > 0 {
			height = p.Esplora.Status.BlockHeight
			if p.TipHeight >= height {
				confs = p.TipHeight - height + 1
			}
		}
	default:
		return nil, fmt.Errorf("%s returned a %q payload with no body", c.Name(), p.Kind)
	}

	facts := &models.TransactionFacts{
		TxHash:         txHash,
		Confirmations:  confs,
		BlockHeight:    height,
		SourceProvider: c.Name(),
		ObservedAt:     time.Now().UTC(),
	}

	for _, out := range outputs {
		if tracked != "" && out.Address == tracked {
			facts.AmountToTracked += out.ValueSats
		}
	}
	facts.ReceiverIsTracked = facts.AmountToTracked > 0

	res := resolver.New(c)
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		addr, ok := res.ResolveSender(ctx, in, params)
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true
		facts.SenderAddresses = append(facts.SenderAddresses, addr)
	}
	sort.Strings(facts.SenderAddresses)

	return facts, nil
}

func nodeInputs(vin []btcjson.Vin) ([]models.TxInput, error) {
	inputs := make([]models.TxInput, 0, len(vin))
	for i, v := range vin {
		in := models.TxInput{
			PrevTxID: v.Txid,
			PrevVout: v.Vout,
			Coinbase: v.Coinbase != "",
		}
		if v.ScriptSig != nil && v.ScriptSig.Hex != "" {
			script, err := hex.DecodeString(v.ScriptSig.Hex)
			if err != nil {
				return nil, fmt.Errorf("input %d scriptSig: %w", i, err)
			}
			in.ScriptSig = script
		}
		witness, err := decodeWitness(v.Witness)
		if err != nil {
			return nil, fmt.Errorf("input %d witness: %w", i, err)
		}
		in.Witness = witness
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func nodeOutputs(p *provider.Payload, params *chaincfg.Params) []models.TxOutput {
	outputs := make([]models.TxOutput, 0, len(p.Node.Vout))
	for _, v := range p.Node.Vout {
		addr := v.ScriptPubKey.Address
		if addr == "" {
			addr = provider.ScriptAddress(v.ScriptPubKey.Hex, params)
		}
		outputs = append(outputs, models.TxOutput{
			Address:   addr,
			ValueSats: provider.BTCToSats(v.Value),
		})
	}
	return outputs
}

func esploraInputs(vin []provider.EsploraVin) ([]models.TxInput, error) {
	inputs := make([]models.TxInput, 0, len(vin))
	for i, v := range vin {
		in := models.TxInput{
			PrevTxID: v.TxID,
			PrevVout: v.Vout,
			Coinbase: v.IsCoinbase,
		}
		if v.Prevout != nil {
			in.Address = v.Prevout.ScriptPubKeyAddress
		}
		if v.ScriptSig != "" {
			script, err := hex.DecodeString(v.ScriptSig)
			if err != nil {
				return nil, fmt.Errorf("input %d scriptsig: %w", i, err)
			}
			in.ScriptSig = script
		}
		witness, err := decodeWitness(v.Witness)
		if err != nil {
			return nil, fmt.Errorf("input %d witness: %w", i, err)
		}
		in.Witness = witness
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func esploraOutputs(vout []provider.EsploraVout) []models.TxOutput {
	outputs := make([]models.TxOutput, 0, len(vout))
	for _, v := range vout {
		outputs = append(outputs, models.TxOutput{
			Address:   v.ScriptPubKeyAddress,
			ValueSats: v.Value,
		})
	}
	return outputs
}

func decodeWitness(items []string) ([][]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	witness := make([][]byte, len(items))
	for i, item := range items {
		b, err := hex.DecodeString(item)
		if err != nil {
			return nil, err
		}
		witness[i] = b
	}
	return witness, nil
}
