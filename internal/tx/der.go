package tx

import (
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

var errMalformedDER = errors.New("malformed DER signature")

// EncodeDER encodes an ECDSA (r, s) pair as an ASN.1 DER SEQUENCE of two
// INTEGERs. The sighash type byte is not appended.
func EncodeDER(r, s *big.Int) ([]byte, error) {
	if r == nil || s == nil || r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, fmt.Errorf("%w: r and s must be positive", errMalformedDER)
	}

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		seq.AddASN1(asn1.INTEGER, func(c *cryptobyte.Builder) {
			c.AddBytes(canonicalInt(r))
		})
		seq.AddASN1(asn1.INTEGER, func(c *cryptobyte.Builder) {
			c.AddBytes(canonicalInt(s))
		})
	})
	return b.Bytes()
}

// canonicalInt returns the minimal big-endian encoding of a positive v, with a
// zero byte prepended when the high bit is set so it is not read as negative.
func canonicalInt(v *big.Int) []byte {
	raw := v.Bytes()
	if raw[0]&0x80 != 0 {
		return append([]byte{0x00}, raw...)
	}
	return raw
}

// DecodeDER parses a strict DER signature without a trailing sighash byte.
func DecodeDER(sig []byte) (*big.Int, *big.Int, error) {
	var (
		input = cryptobyte.String(sig)
		inner cryptobyte.String
		r     = new(big.Int)
		s     = new(big.Int)
	)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() {
		return nil, nil, fmt.Errorf("%w: bad sequence", errMalformedDER)
	}
	if !inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, nil, fmt.Errorf("%w: bad integers", errMalformedDER)
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: r and s must be positive", errMalformedDER)
	}
	return r, s, nil
}
