/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package common implements the digest commitment codec shared by the SD-JWT
// issuer, holder and verifier: disclosure encoding, digest calculation and
// the combined serialization formats.
package common

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v3/json"
)

// CombinedFormatSeparator is disclosure separator.
const (
	CombinedFormatSeparator = "~"

	SDAlgorithmKey = "_sd_alg"
	SDKey          = "_sd"
	CNFKey         = "cnf"
	SDHashKey      = "sd_hash"

	// KeyBindingTypeHeader is the typ header of a key binding JWT.
	KeyBindingTypeHeader = "kb+jwt"

	disclosureParts = 3
	saltIndex       = 0
	nameIndex       = 1
	valueIndex      = 2
)

// Codec errors. All are per-call conditions recoverable by the caller.
var (
	// ErrDisclosureEncoding indicates that a claim could not be encoded into a disclosure.
	ErrDisclosureEncoding = errors.New("disclosure encoding error")

	// ErrDisclosureDecoding indicates a malformed disclosure string.
	ErrDisclosureDecoding = errors.New("disclosure decoding error")

	// ErrDisclosureNotCommitted indicates a disclosure whose digest is not part of
	// the issuer-signed digest set.
	ErrDisclosureNotCommitted = errors.New("disclosure digest not committed in SD-JWT")
)

// CombinedFormatForIssuance holds SD-JWT and disclosures.
type CombinedFormatForIssuance struct {
	SDJWT       string
	Disclosures []string
}

// Serialize assembles combined format for issuance:
//
//	<SD-JWT>~<Disclosure 1>~<Disclosure 2>~...~<Disclosure N>~
//
// The trailing separator is always present, even with zero disclosures,
// to mark the end of the disclosure list.
func (cf *CombinedFormatForIssuance) Serialize() string {
	serialized := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		serialized += CombinedFormatSeparator + disclosure
	}

	return serialized + CombinedFormatSeparator
}

// CombinedFormatForPresentation holds SD-JWT, disclosures and optional key binding JWT.
type CombinedFormatForPresentation struct {
	SDJWT         string
	Disclosures   []string
	KeyBindingJWT string
}

// Serialize assembles combined format for presentation:
//
//	<SD-JWT>~<Disclosure 1>~...~<Disclosure N>~<optional Key Binding JWT>
//
// Without key binding the string ends with the separator.
func (cf *CombinedFormatForPresentation) Serialize() string {
	serialized := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		serialized += CombinedFormatSeparator + disclosure
	}

	return serialized + CombinedFormatSeparator + cf.KeyBindingJWT
}

// ParseCombinedFormatForIssuance parses combined format for issuance into CombinedFormatForIssuance parts.
// A missing trailing separator is tolerated.
func ParseCombinedFormatForIssuance(combinedFormatForIssuance string) *CombinedFormatForIssuance {
	parts := strings.Split(strings.TrimSuffix(combinedFormatForIssuance, CombinedFormatSeparator),
		CombinedFormatSeparator)

	var disclosures []string
	if len(parts) > 1 {
		disclosures = parts[1:]
	}

	return &CombinedFormatForIssuance{SDJWT: parts[0], Disclosures: disclosures}
}

// ParseCombinedFormatForPresentation parses combined format for presentation into
// CombinedFormatForPresentation parts.
func ParseCombinedFormatForPresentation(combinedFormatForPresentation string) *CombinedFormatForPresentation {
	parts := strings.Split(combinedFormatForPresentation, CombinedFormatSeparator)

	var disclosures []string
	if len(parts) > 2 {
		disclosures = parts[1 : len(parts)-1]
	}

	var keyBindingJWT string
	if len(parts) > 1 {
		keyBindingJWT = parts[len(parts)-1]
	}

	return &CombinedFormatForPresentation{
		SDJWT:         parts[0],
		Disclosures:   disclosures,
		KeyBindingJWT: keyBindingJWT,
	}
}

// DisclosureClaim defines claim retrieved from a disclosure.
type DisclosureClaim struct {
	Disclosure string
	Salt       string
	Name       string
	Value      interface{}
}

// EncodeDisclosure deterministically serializes the (salt, claim name, claim value) triple
// into a base64url-framed disclosure string.
func EncodeDisclosure(salt, name string, value interface{}) (string, error) {
	return EncodeDisclosureWithMarshaller(salt, name, value, json.Marshal)
}

// EncodeDisclosureWithMarshaller is EncodeDisclosure with an injected JSON marshaller.
func EncodeDisclosureWithMarshaller(salt, name string, value interface{},
	jsonMarshal func(v interface{}) ([]byte, error)) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: claim name is empty", ErrDisclosureEncoding)
	}

	disclosure := []interface{}{salt, name, value}

	disclosureBytes, err := jsonMarshal(disclosure)
	if err != nil {
		return "", fmt.Errorf("%w: marshal disclosure: %s", ErrDisclosureEncoding, err)
	}

	return base64.RawURLEncoding.EncodeToString(disclosureBytes), nil
}

// DecodeDisclosure is the inverse of EncodeDisclosure.
func DecodeDisclosure(disclosure string) (*DisclosureClaim, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(disclosure)
	if err != nil {
		return nil, fmt.Errorf("%w: decode disclosure: %s", ErrDisclosureDecoding, err)
	}

	var disclosureArr []interface{}

	err = json.Unmarshal(decoded, &disclosureArr)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal disclosure array: %s", ErrDisclosureDecoding, err)
	}

	if len(disclosureArr) != disclosureParts {
		return nil, fmt.Errorf("%w: disclosure array size[%d] must be %d",
			ErrDisclosureDecoding, len(disclosureArr), disclosureParts)
	}

	salt, ok := disclosureArr[saltIndex].(string)
	if !ok {
		return nil, fmt.Errorf("%w: disclosure salt type[%T] must be string",
			ErrDisclosureDecoding, disclosureArr[saltIndex])
	}

	name, ok := disclosureArr[nameIndex].(string)
	if !ok {
		return nil, fmt.Errorf("%w: disclosure name type[%T] must be string",
			ErrDisclosureDecoding, disclosureArr[nameIndex])
	}

	return &DisclosureClaim{
		Disclosure: disclosure,
		Salt:       salt,
		Name:       name,
		Value:      disclosureArr[valueIndex],
	}, nil
}

// GetDisclosureClaims decodes disclosures.
func GetDisclosureClaims(disclosures []string) ([]*DisclosureClaim, error) {
	claims := make([]*DisclosureClaim, 0, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := DecodeDisclosure(disclosure)
		if err != nil {
			return nil, err
		}

		claims = append(claims, claim)
	}

	return claims, nil
}

// GetHash calculates base64url-framed hash of value using the hash function identified by hash.
// The digest is deterministic: the same input always yields the same output, which lets the
// verifier recompute disclosure commitments.
func GetHash(hash crypto.Hash, value string) (string, error) {
	if !hash.Available() {
		return "", fmt.Errorf("hash function not available for: %d", hash)
	}

	h := hash.New()

	if _, hashErr := h.Write([]byte(value)); hashErr != nil {
		return "", hashErr
	}

	result := h.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(result), nil
}

// CalculateSDHash computes the digest binding a key binding JWT to exactly the presented
// disclosure set: the hash of the issuance-form serialization of the SD-JWT and disclosures.
func CalculateSDHash(hash crypto.Hash, sdJWT string, disclosures []string) (string, error) {
	cf := CombinedFormatForIssuance{
		SDJWT:       sdJWT,
		Disclosures: disclosures,
	}

	return GetHash(hash, cf.Serialize())
}

// GetCryptoHash returns crypto hash for the hash algorithm name advertised in _sd_alg.
func GetCryptoHash(sdAlg string) (crypto.Hash, error) {
	switch strings.ToUpper(sdAlg) {
	case crypto.SHA256.String():
		return crypto.SHA256, nil
	default:
		return 0, fmt.Errorf("%s '%s' not supported", SDAlgorithmKey, sdAlg)
	}
}

// GetSDAlg returns the value of the _sd_alg claim.
func GetSDAlg(claims map[string]interface{}) (string, error) {
	obj, ok := claims[SDAlgorithmKey]
	if !ok {
		return "", fmt.Errorf("%s must be present in SD-JWT", SDAlgorithmKey)
	}

	str, ok := obj.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", SDAlgorithmKey)
	}

	return str, nil
}

// GetCryptoHashFromClaims returns the disclosure hash function declared by the claims.
func GetCryptoHashFromClaims(claims map[string]interface{}) (crypto.Hash, error) {
	sdAlg, err := GetSDAlg(claims)
	if err != nil {
		return 0, err
	}

	return GetCryptoHash(sdAlg)
}

// GetCryptoHashFromSDJWT returns the disclosure hash function declared by a serialized SD-JWT.
// The payload is decoded without signature verification; callers are expected to have
// verified the token beforehand.
func GetCryptoHashFromSDJWT(sdJWT string) (crypto.Hash, error) {
	parts := strings.Split(sdJWT, ".")
	if len(parts) != 3 {
		return 0, errors.New("SD-JWT of compact JWS form is supported only")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, fmt.Errorf("decode SD-JWT payload: %w", err)
	}

	var claims map[string]interface{}

	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return 0, fmt.Errorf("unmarshal SD-JWT payload: %w", err)
	}

	return GetCryptoHashFromClaims(claims)
}

// GetCNF returns the cnf claim holding the holder public key.
func GetCNF(claims map[string]interface{}) (map[string]interface{}, error) {
	obj, ok := claims[CNFKey]
	if !ok {
		return nil, fmt.Errorf("%s must be present in SD-JWT", CNFKey)
	}

	cnf, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", CNFKey)
	}

	return cnf, nil
}

// HasCNF reports whether the claims advertise a holder binding key.
func HasCNF(claims map[string]interface{}) bool {
	_, ok := claims[CNFKey]

	return ok
}

// GetDisclosureDigests returns digests from the _sd claim as a set.
// Digest order in _sd carries no semantic meaning.
func GetDisclosureDigests(claims map[string]interface{}) (map[string]bool, error) {
	disclosuresObj, ok := claims[SDKey]
	if !ok {
		return nil, nil
	}

	disclosures, err := stringArray(disclosuresObj)
	if err != nil {
		return nil, fmt.Errorf("get disclosure digests: %w", err)
	}

	return sliceToMap(disclosures), nil
}

func stringArray(entry interface{}) ([]string, error) {
	if entry == nil {
		return nil, nil
	}

	entries, ok := entry.([]interface{})
	if !ok {
		return nil, fmt.Errorf("entry type[%T] is not an array", entry)
	}

	var result []string

	for _, e := range entries {
		eStr, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("entry item type[%T] is not a string", e)
		}

		result = append(result, eStr)
	}

	return result, nil
}

func sliceToMap(ids []string) map[string]bool {
	values := make(map[string]bool)
	for _, id := range ids {
		values[id] = true
	}

	return values
}
