/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package verifier enables the Verifier: an entity that validates SD-JWT
// presentations. It checks the issuer signature, opens the presented
// disclosures against the committed digest set, and enforces holder key
// binding when the credential carries a cnf claim.
package verifier

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/json"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	"github.com/opencred/sdjwt/doc/jose"
	afjwt "github.com/opencred/sdjwt/doc/jwt"
	"github.com/opencred/sdjwt/doc/sdjwt/common"
)

// Verification errors distinguishable with errors.Is.
var (
	// ErrInvalidIssuerSignature indicates an SD-JWT rejected at issuer verification:
	// the signature does not verify, the signing algorithm is not allowed, or the
	// time claims are invalid.
	ErrInvalidIssuerSignature = errors.New("invalid issuer signature")

	// ErrMissingKeyBinding indicates that key binding is required but the
	// presentation carries no key binding JWT.
	ErrMissingKeyBinding = errors.New("missing key binding JWT")

	// ErrInvalidKeyBinding indicates a key binding JWT that fails validation.
	ErrInvalidKeyBinding = errors.New("invalid key binding JWT")

	// ErrNonceMismatch indicates a key binding nonce different from the expected one.
	ErrNonceMismatch = errors.New("key binding nonce mismatch")

	// ErrAudienceMismatch indicates a key binding audience different from the expected one.
	ErrAudienceMismatch = errors.New("key binding audience mismatch")
)

// parseOpts holds options for the SD-JWT parsing.
type parseOpts struct {
	detachedPayload []byte
	sigVerifier     jose.SignatureVerifier

	issuerSigningAlgorithms []string
	holderSigningAlgorithms []string

	keyBindingRequired    bool
	keyBindingRequiredSet bool

	expectedAudienceForKeyBinding string
	expectedNonceForKeyBinding    string

	leewayForClaimsValidation time.Duration
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) ParseOpt {
	return func(opts *parseOpts) {
		opts.detachedPayload = payload
	}
}

// WithSignatureVerifier option is for definition of issuer signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithHolderSigningAlgorithms option is for defining secure signing algorithms (for holder).
func WithHolderSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.holderSigningAlgorithms = algorithms
	}
}

// WithKeyBindingRequired overrides the default key binding policy. By default key
// binding is required exactly when the SD-JWT carries a cnf claim.
func WithKeyBindingRequired(flag bool) ParseOpt {
	return func(opts *parseOpts) {
		opts.keyBindingRequired = flag
		opts.keyBindingRequiredSet = true
	}
}

// WithExpectedAudienceForKeyBinding option is for definition of expected audience for key binding.
func WithExpectedAudienceForKeyBinding(audience string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedAudienceForKeyBinding = audience
	}
}

// WithExpectedNonceForKeyBinding option is for definition of expected nonce for key binding.
func WithExpectedNonceForKeyBinding(nonce string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedNonceForKeyBinding = nonce
	}
}

// WithLeewayForClaimsValidation is an option for claims time validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.leewayForClaimsValidation = duration
	}
}

// Parse verifies a combined format for presentation and returns the disclosed
// claims as a name to value map.
//
// It checks, in order:
//   - issuer signature over the SD-JWT,
//   - signing algorithm against the allowed issuer list (none is always rejected),
//   - standard time claims (nbf, iat, exp) with configured leeway,
//     (failures of these three wrap ErrInvalidIssuerSignature)
//   - absence of duplicate disclosures,
//   - that every presented disclosure digest is committed in the _sd claim,
//   - holder key binding, when required by policy or by the presence of cnf.
//
// The returned map holds exactly the presented disclosed claims. Claims the
// holder withheld are absent, and no information about them can be derived
// from the result.
func Parse(combinedFormatForPresentation string, opts ...ParseOpt) (map[string]interface{}, error) {
	defaultIssuerSigningAlgorithms := []string{"EdDSA", "RS256", "ES256"}
	defaultHolderSigningAlgorithms := []string{"EdDSA", "RS256", "ES256"}

	pOpts := &parseOpts{
		issuerSigningAlgorithms:   defaultIssuerSigningAlgorithms,
		holderSigningAlgorithms:   defaultHolderSigningAlgorithms,
		leewayForClaimsValidation: jwt.DefaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	if pOpts.sigVerifier == nil {
		return nil, errors.New("issuer signature verifier is required")
	}

	var jwtOpts []afjwt.ParseOpt
	jwtOpts = append(jwtOpts,
		afjwt.WithSignatureVerifier(pOpts.sigVerifier),
		afjwt.WithJWTDetachedPayload(pOpts.detachedPayload))

	cfp := common.ParseCombinedFormatForPresentation(combinedFormatForPresentation)

	signedJWT, _, err := afjwt.Parse(cfp.SDJWT, jwtOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIssuerSignature, err)
	}

	err = common.VerifySigningAlg(signedJWT.Headers, pOpts.issuerSigningAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify issuer signing algorithm: %s", ErrInvalidIssuerSignature, err)
	}

	err = common.VerifyJWT(signedJWT, pOpts.leewayForClaimsValidation)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIssuerSignature, err)
	}

	err = common.CheckForDuplicates(cfp.Disclosures)
	if err != nil {
		return nil, fmt.Errorf("check disclosures: %w", err)
	}

	err = common.VerifyDisclosuresInSDJWT(cfp.Disclosures, signedJWT)
	if err != nil {
		return nil, err
	}

	err = verifyKeyBinding(cfp, signedJWT, pOpts)
	if err != nil {
		return nil, err
	}

	return getDisclosedClaims(cfp.Disclosures)
}

func getDisclosedClaims(disclosures []string) (map[string]interface{}, error) {
	disclosureClaims, err := common.GetDisclosureClaims(disclosures)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims from disclosures: %w", err)
	}

	claims := make(map[string]interface{}, len(disclosureClaims))
	for _, claim := range disclosureClaims {
		claims[claim.Name] = claim.Value
	}

	return claims, nil
}

func verifyKeyBinding(cfp *common.CombinedFormatForPresentation, signedJWT *afjwt.JSONWebToken,
	pOpts *parseOpts) error {
	required := common.HasCNF(signedJWT.Payload)
	if pOpts.keyBindingRequiredSet {
		required = pOpts.keyBindingRequired
	}

	if cfp.KeyBindingJWT == "" {
		if required {
			return ErrMissingKeyBinding
		}

		return nil
	}

	if !common.HasCNF(signedJWT.Payload) {
		return fmt.Errorf("%w: key binding JWT provided but SD-JWT has no cnf claim", ErrInvalidKeyBinding)
	}

	holderVerifier, err := getVerifierFromCNF(signedJWT.Payload)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKeyBinding, err)
	}

	keyBindingJWT, _, err := afjwt.Parse(cfp.KeyBindingJWT, afjwt.WithSignatureVerifier(holderVerifier))
	if err != nil {
		return fmt.Errorf("%w: parse JWT: %s", ErrInvalidKeyBinding, err)
	}

	err = common.VerifyTyp(keyBindingJWT.Headers, common.KeyBindingTypeHeader)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKeyBinding, err)
	}

	err = common.VerifySigningAlg(keyBindingJWT.Headers, pOpts.holderSigningAlgorithms)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKeyBinding, err)
	}

	err = common.VerifyJWT(keyBindingJWT, pOpts.leewayForClaimsValidation)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKeyBinding, err)
	}

	var bindingPayload keyBindingPayload

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &bindingPayload,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("%w: decode payload: %s", ErrInvalidKeyBinding, err)
	}

	if err = d.Decode(keyBindingJWT.Payload); err != nil {
		return fmt.Errorf("%w: decode payload: %s", ErrInvalidKeyBinding, err)
	}

	if pOpts.expectedNonceForKeyBinding != "" && pOpts.expectedNonceForKeyBinding != bindingPayload.Nonce {
		return fmt.Errorf("%w: got '%s'", ErrNonceMismatch, bindingPayload.Nonce)
	}

	if pOpts.expectedAudienceForKeyBinding != "" && pOpts.expectedAudienceForKeyBinding != bindingPayload.Audience {
		return fmt.Errorf("%w: got '%s'", ErrAudienceMismatch, bindingPayload.Audience)
	}

	return verifySDHash(cfp, signedJWT, bindingPayload.SDHash)
}

// verifySDHash recomputes the hash over the presented SD-JWT and disclosures
// and compares it against the sd_hash claim of the key binding JWT. A mismatch
// means the binding was minted for a different presentation.
func verifySDHash(cfp *common.CombinedFormatForPresentation, signedJWT *afjwt.JSONWebToken, sdHash string) error {
	cryptoHash, err := common.GetCryptoHashFromClaims(signedJWT.Payload)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKeyBinding, err)
	}

	expectedHash, err := common.CalculateSDHash(cryptoHash, cfp.SDJWT, cfp.Disclosures)
	if err != nil {
		return fmt.Errorf("%w: calculate sd_hash: %s", ErrInvalidKeyBinding, err)
	}

	if sdHash != expectedHash {
		return fmt.Errorf("%w: sd_hash mismatch", ErrInvalidKeyBinding)
	}

	return nil
}

// getVerifierFromCNF builds a signature verifier from the holder public key
// embedded as a JWK in the cnf claim.
func getVerifierFromCNF(claims map[string]interface{}) (jose.SignatureVerifier, error) {
	cnf, err := common.GetCNF(claims)
	if err != nil {
		return nil, err
	}

	jwkObj, ok := cnf["jwk"]
	if !ok {
		return nil, errors.New("cnf must contain a jwk")
	}

	jwkBytes, err := json.Marshal(jwkObj)
	if err != nil {
		return nil, fmt.Errorf("marshal cnf jwk: %s", err)
	}

	var jwk gojose.JSONWebKey
	if err := jwk.UnmarshalJSON(jwkBytes); err != nil {
		return nil, fmt.Errorf("unmarshal cnf jwk: %s", err)
	}

	return afjwt.GetVerifier(&jwk)
}

// keyBindingPayload represents expected key binding payload.
type keyBindingPayload struct {
	Nonce    string `json:"nonce,omitempty"`
	Audience string `json:"aud,omitempty"`
	SDHash   string `json:"sd_hash,omitempty"`
}
