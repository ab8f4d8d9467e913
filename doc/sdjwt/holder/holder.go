/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package holder enables the Holder: an entity that receives SD-JWTs from the
// Issuer and builds presentations disclosing a chosen subset of claims, with
// optional key binding towards a Verifier.
package holder

import (
	"fmt"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/opencred/sdjwt/doc/jose"
	afjwt "github.com/opencred/sdjwt/doc/jwt"
	"github.com/opencred/sdjwt/doc/sdjwt/common"
)

// jwtParseOpts holds options for the SD-JWT parsing.
type parseOpts struct {
	detachedPayload   []byte
	sigVerifier       jose.SignatureVerifier
	signingAlgorithms []string
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) ParseOpt {
	return func(opts *parseOpts) {
		opts.detachedPayload = payload
	}
}

// WithSignatureVerifier option is for definition of signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithSigningAlgorithms option is for defining secure signing algorithms (for holder verification).
func WithSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.signingAlgorithms = algorithms
	}
}

// Claim defines claim.
type Claim struct {
	Disclosure string
	Name       string
	Value      interface{}
}

// Parse parses issuer serialized SD-JWT and returns claims that could be selected.
// The Holder discloses claims to the Verifier by sending the corresponding disclosures.
func Parse(combinedFormatForIssuance string, opts ...ParseOpt) ([]*Claim, error) {
	defaultSigningAlgorithms := []string{"EdDSA", "RS256", "ES256"}
	pOpts := &parseOpts{
		sigVerifier:       &NoopSignatureVerifier{},
		signingAlgorithms: defaultSigningAlgorithms,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	var jwtOpts []afjwt.ParseOpt
	jwtOpts = append(jwtOpts,
		afjwt.WithSignatureVerifier(pOpts.sigVerifier),
		afjwt.WithJWTDetachedPayload(pOpts.detachedPayload))

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	signedJWT, _, err := afjwt.Parse(cfi.SDJWT, jwtOpts...)
	if err != nil {
		return nil, err
	}

	err = common.VerifySigningAlg(signedJWT.Headers, pOpts.signingAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signing algorithm: %w", err)
	}

	err = common.VerifyJWT(signedJWT, 0)
	if err != nil {
		return nil, err
	}

	err = common.CheckForDuplicates(cfi.Disclosures)
	if err != nil {
		return nil, fmt.Errorf("check disclosures: %w", err)
	}

	err = common.VerifyDisclosuresInSDJWT(cfi.Disclosures, signedJWT)
	if err != nil {
		return nil, err
	}

	return getClaims(cfi.Disclosures)
}

func getClaims(disclosures []string) ([]*Claim, error) {
	disclosureClaims, err := common.GetDisclosureClaims(disclosures)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims from disclosures: %w", err)
	}

	var claims []*Claim
	for _, disclosure := range disclosureClaims {
		claims = append(claims,
			&Claim{
				Disclosure: disclosure.Disclosure,
				Name:       disclosure.Name,
				Value:      disclosure.Value,
			})
	}

	return claims, nil
}

// BindingPayload represents holder key binding payload.
type BindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
	SDHash   string           `json:"sd_hash,omitempty"`
}

// BindingInfo defines holder key binding payload and signer.
type BindingInfo struct {
	Payload BindingPayload
	Signer  jose.Signer
}

// options holds options for creating SD-JWT presentation.
type options struct {
	holderBindingInfo *BindingInfo
}

// Option is an option for creating SD-JWT presentation.
type Option func(opts *options)

// WithHolderBinding option to set optional holder binding.
func WithHolderBinding(info *BindingInfo) Option {
	return func(opts *options) {
		opts.holderBindingInfo = info
	}
}

// CreatePresentation is a convenience method to assemble combined format for presentation
// using selected disclosures (claimNames) and optional holder binding.
// The combined format for presentation has the form:
//
//	<SD-JWT>~<Disclosure 1>~<Disclosure 2>~...~<Disclosure N>~<optional Key Binding JWT>
//
// Claim names that do not correspond to a held disclosure are silently ignored;
// a Verifier that requires them simply never sees those claims.
func CreatePresentation(combinedFormatForIssuance string, claimNames []string, opts ...Option) (string, error) {
	hOpts := &options{}

	for _, opt := range opts {
		opt(hOpts)
	}

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	if len(cfi.Disclosures) == 0 && len(claimNames) > 0 {
		return "", fmt.Errorf("no disclosures found in SD-JWT")
	}

	selected, err := filterDisclosures(cfi.Disclosures, claimNames)
	if err != nil {
		return "", err
	}

	var keyBindingJWT string
	if hOpts.holderBindingInfo != nil {
		keyBindingJWT, err = CreateKeyBinding(cfi.SDJWT, selected, hOpts.holderBindingInfo)
		if err != nil {
			return "", fmt.Errorf("failed to create key binding: %w", err)
		}
	}

	cf := common.CombinedFormatForPresentation{
		SDJWT:         cfi.SDJWT,
		Disclosures:   selected,
		KeyBindingJWT: keyBindingJWT,
	}

	return cf.Serialize(), nil
}

// filterDisclosures keeps the disclosures whose decoded claim name is requested,
// preserving issuance order.
func filterDisclosures(disclosures, claimNames []string) ([]string, error) {
	requested := make(map[string]bool, len(claimNames))
	for _, name := range claimNames {
		requested[name] = true
	}

	var selected []string

	for _, disclosure := range disclosures {
		claim, err := common.DecodeDisclosure(disclosure)
		if err != nil {
			return nil, fmt.Errorf("decode disclosure: %w", err)
		}

		if requested[claim.Name] {
			selected = append(selected, disclosure)
		}
	}

	return selected, nil
}

// CreateKeyBinding will create holder key binding JWT over the SD-JWT and the
// selected disclosures. The sd_hash claim commits the binding to exactly this
// presented set.
func CreateKeyBinding(sdJWT string, disclosures []string, info *BindingInfo) (string, error) {
	cryptoHash, err := common.GetCryptoHashFromSDJWT(sdJWT)
	if err != nil {
		return "", err
	}

	sdHash, err := common.CalculateSDHash(cryptoHash, sdJWT, disclosures)
	if err != nil {
		return "", fmt.Errorf("calculate sd_hash: %w", err)
	}

	payload := info.Payload
	payload.SDHash = sdHash

	headers := map[string]interface{}{
		jose.HeaderType: common.KeyBindingTypeHeader,
	}

	keyBindingJWT, err := afjwt.NewSigned(payload, headers, info.Signer)
	if err != nil {
		return "", fmt.Errorf("create key binding JWT: %w", err)
	}

	return keyBindingJWT.Serialize(false)
}

// NoopSignatureVerifier is a no-op verifier. It is used when the Holder trusts
// the channel the SD-JWT arrived on and skips issuer signature verification.
type NoopSignatureVerifier struct {
}

// Verify implements signature verification.
func (sv *NoopSignatureVerifier) Verify(joseHeaders jose.Headers, payload, signingInput, signature []byte) error {
	return nil
}
