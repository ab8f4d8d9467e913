/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package issuer enables the Issuer: an entity that creates SD-JWTs, committing to
// selectively disclosable claims through salted digests.
//
// An issued SD-JWT reveals no disclosable claim value by itself; only the disclosure
// strings travelling alongside it (and retained by the holder) can open the digests.
package issuer

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	mathrand "math/rand"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/json"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/opencred/sdjwt/doc/jose"
	afjwt "github.com/opencred/sdjwt/doc/jwt"
	"github.com/opencred/sdjwt/doc/sdjwt/common"
	"github.com/opencred/sdjwt/util/jsonutil"
)

const (
	defaultHash     = crypto.SHA256
	defaultSaltSize = 128 / 8

	decoyMinElements = 1
	decoyMaxElements = 4
)

// newOpts holds options for creating new SD-JWT.
type newOpts struct {
	Subject string
	JTI     string
	ID      string

	Expiry    *jwt.NumericDate
	NotBefore *jwt.NumericDate
	IssuedAt  *jwt.NumericDate

	HolderPublicKey *gojose.JSONWebKey

	HashAlg crypto.Hash

	disclosableNames []string

	jsonMarshal func(v interface{}) ([]byte, error)
	getSalt     func() (string, error)

	addDecoyDigests bool
}

// NewOpt is the SD-JWT New option.
type NewOpt func(opts *newOpts)

// WithJSONMarshaller is an option for marshalling disclosures.
func WithJSONMarshaller(jsonMarshal func(v interface{}) ([]byte, error)) NewOpt {
	return func(opts *newOpts) {
		opts.jsonMarshal = jsonMarshal
	}
}

// WithSaltFnc is an option for generating disclosure salts. The default draws 128-bit
// salts from crypto/rand; an injected function is intended for deterministic tests.
func WithSaltFnc(fnc func() (string, error)) NewOpt {
	return func(opts *newOpts) {
		opts.getSalt = fnc
	}
}

// WithIssuedAt is an option for SD-JWT payload.
func WithIssuedAt(issuedAt *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.IssuedAt = issuedAt
	}
}

// WithExpiry is an option for SD-JWT payload.
func WithExpiry(expiry *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.Expiry = expiry
	}
}

// WithNotBefore is an option for SD-JWT payload.
func WithNotBefore(notBefore *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.NotBefore = notBefore
	}
}

// WithSubject is an option for SD-JWT payload.
func WithSubject(subject string) NewOpt {
	return func(opts *newOpts) {
		opts.Subject = subject
	}
}

// WithJTI is an option for SD-JWT payload.
func WithJTI(jti string) NewOpt {
	return func(opts *newOpts) {
		opts.JTI = jti
	}
}

// WithID is an option for SD-JWT payload.
func WithID(id string) NewOpt {
	return func(opts *newOpts) {
		opts.ID = id
	}
}

// WithHolderPublicKey is an option for embedding the holder public key as the cnf claim.
// A verifier will then expect presentations to carry a key binding JWT signed by the
// matching private key.
func WithHolderPublicKey(key *gojose.JSONWebKey) NewOpt {
	return func(opts *newOpts) {
		opts.HolderPublicKey = key
	}
}

// WithHashAlgorithm is an option for hashing disclosures.
func WithHashAlgorithm(alg crypto.Hash) NewOpt {
	return func(opts *newOpts) {
		opts.HashAlg = alg
	}
}

// WithDecoyDigests is an option for adding decoy digests (default is false).
func WithDecoyDigests(flag bool) NewOpt {
	return func(opts *newOpts) {
		opts.addDecoyDigests = flag
	}
}

// WithDisclosableClaimNames restricts which claims become selectively disclosable.
// Claims not listed are inlined into the payload verbatim. By default every claim
// is disclosable. Every listed name must exist in the claims.
func WithDisclosableClaimNames(names ...string) NewOpt {
	return func(opts *newOpts) {
		opts.disclosableNames = names
	}
}

// New creates a new signed Selective Disclosure JWT based on input claims.
func New(issuer string, claims interface{}, headers jose.Headers,
	signer jose.Signer, opts ...NewOpt) (*SelectiveDisclosureJWT, error) {
	nOpts := &newOpts{
		jsonMarshal: json.Marshal,
		getSalt:     generateSalt,
		HashAlg:     defaultHash,
	}

	for _, opt := range opts {
		opt(nOpts)
	}

	if err := validateValidity(nOpts); err != nil {
		return nil, err
	}

	claimsMap, err := afjwt.PayloadToMap(claims)
	if err != nil {
		return nil, fmt.Errorf("convert payload to map: %w", err)
	}

	disclosable, err := disclosableNamesSet(claimsMap, nOpts)
	if err != nil {
		return nil, err
	}

	disclosures, customFields, err := createDisclosuresAndDigests(claimsMap, disclosable, nOpts)
	if err != nil {
		return nil, err
	}

	payload, err := jsonutil.MergeCustomFields(createPayload(issuer, nOpts), customFields)
	if err != nil {
		return nil, fmt.Errorf("failed to merge payload and digests: %w", err)
	}

	signedJWT, err := afjwt.NewSigned(payload, headers, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create SD-JWT from payload[%+v]: %w", payload, err)
	}

	return &SelectiveDisclosureJWT{Disclosures: disclosures, SignedJWT: signedJWT}, nil
}

func validateValidity(nOpts *newOpts) error {
	if nOpts.NotBefore != nil && nOpts.Expiry != nil &&
		!nOpts.NotBefore.Time().Before(nOpts.Expiry.Time()) {
		return errors.New("validity window is empty: notBefore must precede expiry")
	}

	return nil
}

func disclosableNamesSet(claims map[string]interface{}, nOpts *newOpts) (map[string]bool, error) {
	if nOpts.disclosableNames == nil {
		all := make(map[string]bool, len(claims))
		for name := range claims {
			all[name] = true
		}

		return all, nil
	}

	set := make(map[string]bool, len(nOpts.disclosableNames))

	for _, name := range nOpts.disclosableNames {
		if _, ok := claims[name]; !ok {
			return nil, fmt.Errorf("disclosable claim '%s' not found in claims", name)
		}

		set[name] = true
	}

	return set, nil
}

func createPayload(issuer string, nOpts *newOpts) *payload {
	var cnf map[string]interface{}
	if nOpts.HolderPublicKey != nil {
		cnf = map[string]interface{}{
			"jwk": nOpts.HolderPublicKey,
		}
	}

	return &payload{
		Issuer:    issuer,
		JTI:       nOpts.JTI,
		ID:        nOpts.ID,
		Subject:   nOpts.Subject,
		IssuedAt:  nOpts.IssuedAt,
		Expiry:    nOpts.Expiry,
		NotBefore: nOpts.NotBefore,
		CNF:       cnf,
		SDAlg:     "sha-256",
	}
}

func createDisclosuresAndDigests(claims map[string]interface{}, disclosable map[string]bool,
	opts *newOpts) ([]string, map[string]interface{}, error) {
	var disclosures []string

	customFields := make(map[string]interface{})

	for name, value := range claims {
		if !disclosable[name] {
			customFields[name] = value
			continue
		}

		disclosure, err := createDisclosure(name, value, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("create disclosure: %w", err)
		}

		disclosures = append(disclosures, disclosure)
	}

	decoyDisclosures, err := createDecoyDisclosures(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create decoy disclosures: %w", err)
	}

	digests, err := createDigests(append(disclosures, decoyDisclosures...), opts)
	if err != nil {
		return nil, nil, err
	}

	customFields[common.SDKey] = digests

	return disclosures, customFields, nil
}

func createDisclosure(name string, value interface{}, opts *newOpts) (string, error) {
	salt, err := opts.getSalt()
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	return common.EncodeDisclosureWithMarshaller(salt, name, value, opts.jsonMarshal)
}

func createDigests(disclosures []string, opts *newOpts) ([]string, error) {
	digests := make([]string, 0, len(disclosures))
	seen := make(map[string]bool, len(disclosures))

	for _, disclosure := range disclosures {
		digest, inErr := common.GetHash(opts.HashAlg, disclosure)
		if inErr != nil {
			return nil, fmt.Errorf("hash disclosure: %w", inErr)
		}

		// A repeated digest would alias two claims within one bundle.
		if seen[digest] {
			return nil, fmt.Errorf("duplicate disclosure digest '%s'", digest)
		}

		seen[digest] = true

		digests = append(digests, digest)
	}

	// top-level math/rand functions are safe for concurrent use
	mathrand.Shuffle(len(digests), func(i, j int) {
		digests[i], digests[j] = digests[j], digests[i]
	})

	return digests, nil
}

func createDecoyDisclosures(opts *newOpts) ([]string, error) {
	if !opts.addDecoyDigests {
		return nil, nil
	}

	n := mathrand.Intn(decoyMaxElements-decoyMinElements+1) + decoyMinElements

	var decoyDisclosures []string

	for i := 0; i < n; i++ {
		salt, err := opts.getSalt()
		if err != nil {
			return nil, err
		}

		decoyDisclosures = append(decoyDisclosures, salt)
	}

	return decoyDisclosures, nil
}

// SelectiveDisclosureJWT defines Selective Disclosure JSON Web Token.
type SelectiveDisclosureJWT struct {
	SignedJWT   *afjwt.JSONWebToken
	Disclosures []string
}

// DecodeClaims fills input c with claims of a token.
func (j *SelectiveDisclosureJWT) DecodeClaims(c interface{}) error {
	return j.SignedJWT.DecodeClaims(c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *SelectiveDisclosureJWT) LookupStringHeader(name string) string {
	return j.SignedJWT.LookupStringHeader(name)
}

// Serialize makes combined format for issuance serialization of the token:
//
//	<SD-JWT>~<Disclosure 1>~...~<Disclosure N>~
func (j *SelectiveDisclosureJWT) Serialize(detached bool) (string, error) {
	if j.SignedJWT == nil {
		return "", errors.New("JWS serialization is supported only")
	}

	signedJWT, err := j.SignedJWT.Serialize(detached)
	if err != nil {
		return "", err
	}

	cf := common.CombinedFormatForIssuance{
		SDJWT:       signedJWT,
		Disclosures: j.Disclosures,
	}

	return cf.Serialize(), nil
}

func generateSalt() (string, error) {
	salt := make([]byte, defaultSaltSize)

	_, err := rand.Read(salt)
	if err != nil {
		return "", err
	}

	// it is RECOMMENDED to base64url-encode the salt value, producing a string.
	return base64.RawURLEncoding.EncodeToString(salt), nil
}

// payload represents SD-JWT payload.
type payload struct {
	Issuer  string `json:"iss,omitempty"`
	Subject string `json:"sub,omitempty"`
	ID      string `json:"id,omitempty"`
	JTI     string `json:"jti,omitempty"`

	Expiry    *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`

	CNF map[string]interface{} `json:"cnf,omitempty"`

	SDAlg string `json:"_sd_alg,omitempty"`
}
