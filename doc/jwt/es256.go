/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/opencred/sdjwt/doc/jose"
)

// ErrSignatureFormat indicates a failure converting between the ASN.1/DER signature
// emitted by the ECDSA primitive and the fixed-width R||S interchange form.
var ErrSignatureFormat = errors.New("invalid signature format")

// p256KeySize is the byte length of the P-256 curve order. R and S each occupy
// exactly this many bytes in the fixed-width interchange form.
const p256KeySize = 32

// ES256Signer is a Jose compliant signer producing ECDSA P-256 signatures
// in the fixed-width R||S form required for unambiguous splitting.
type ES256Signer struct {
	privKey *ecdsa.PrivateKey
	headers map[string]interface{}
}

// NewES256Signer returns a Jose compliant signer that can be passed as a signer to jwt.NewSigned().
func NewES256Signer(privKey *ecdsa.PrivateKey, headers map[string]interface{}) (*ES256Signer, error) {
	if privKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("es256: unsupported curve '%s'", privKey.Curve.Params().Name)
	}

	return &ES256Signer{
		privKey: privKey,
		headers: prepareJWSHeaders(headers, signatureES256),
	}, nil
}

// Sign data. The DER output of the underlying primitive is converted to the
// 64-byte R||S form; conversion failures surface as ErrSignatureFormat.
func (s ES256Signer) Sign(data []byte) ([]byte, error) {
	hashed := sha256.Sum256(data)

	der, err := ecdsa.SignASN1(rand.Reader, s.privKey, hashed[:])
	if err != nil {
		return nil, err
	}

	return rawSignatureFromDER(der)
}

// Headers returns the signer's headers map.
func (s ES256Signer) Headers() jose.Headers {
	return s.headers
}

// ES256Verifier is a Jose compliant verifier of ECDSA P-256 signatures.
type ES256Verifier struct {
	pubKey *ecdsa.PublicKey
}

// NewES256Verifier returns a Jose compliant verifier that can be passed as a verifier option to jwt.Parse().
func NewES256Verifier(pubKey *ecdsa.PublicKey) *ES256Verifier {
	return &ES256Verifier{pubKey: pubKey}
}

// Verify verifies signingInput against the signature. It also validates that joseHeaders include the right alg.
// The signature is expected in the fixed-width R||S form; a longer DER form is accepted as well.
func (v ES256Verifier) Verify(joseHeaders jose.Headers, _, signingInput, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("alg is not defined")
	}

	if alg != signatureES256 {
		return errors.New("alg is not ES256")
	}

	if len(signature) < 2*p256KeySize {
		return fmt.Errorf("%w: signature size %d, expected %d", ErrSignatureFormat, len(signature), 2*p256KeySize)
	}

	r := big.NewInt(0).SetBytes(signature[:p256KeySize])
	s := big.NewInt(0).SetBytes(signature[p256KeySize : 2*p256KeySize])

	if len(signature) > 2*p256KeySize {
		var esig struct {
			R, S *big.Int
		}

		if _, err := asn1.Unmarshal(signature, &esig); err != nil {
			return fmt.Errorf("%w: %s", ErrSignatureFormat, err)
		}

		r = esig.R
		s = esig.S
	}

	hashed := sha256.Sum256(signingInput)

	if !ecdsa.Verify(v.pubKey, hashed[:], r, s) {
		return errors.New("ecdsa: invalid signature")
	}

	return nil
}

// rawSignatureFromDER converts an ASN.1/DER encoded ECDSA signature into the
// fixed-width R||S form, zero-padding each component to the curve order size.
func rawSignatureFromDER(der []byte) ([]byte, error) {
	var esig struct {
		R, S *big.Int
	}

	rest, err := asn1.Unmarshal(der, &esig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignatureFormat, err)
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after DER signature", ErrSignatureFormat, len(rest))
	}

	if esig.R.Sign() <= 0 || esig.S.Sign() <= 0 {
		return nil, fmt.Errorf("%w: R and S must be positive", ErrSignatureFormat)
	}

	// After stripping the DER sign-padding, each component must fit the curve order size.
	if esig.R.BitLen() > 8*p256KeySize || esig.S.BitLen() > 8*p256KeySize {
		return nil, fmt.Errorf("%w: R or S longer than curve order", ErrSignatureFormat)
	}

	raw := make([]byte, 2*p256KeySize)
	esig.R.FillBytes(raw[:p256KeySize])
	esig.S.FillBytes(raw[p256KeySize:])

	return raw, nil
}
