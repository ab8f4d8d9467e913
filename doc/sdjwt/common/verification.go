/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/exp/slices"

	"github.com/opencred/sdjwt/doc/jose"
	afjwt "github.com/opencred/sdjwt/doc/jwt"
	"github.com/opencred/sdjwt/util/maphelpers"
)

// VerifySigningAlg ensures that a signing algorithm was used that was deemed secure
// for the application. The none algorithm MUST NOT be accepted.
func VerifySigningAlg(joseHeaders jose.Headers, secureAlgs []string) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return fmt.Errorf("missing alg")
	}

	if alg == afjwt.AlgorithmNone {
		return fmt.Errorf("alg value cannot be 'none'")
	}

	if !slices.Contains(secureAlgs, alg) {
		return fmt.Errorf("alg '%s' is not in the allowed list", alg)
	}

	return nil
}

// VerifyJWT checks that the JWT is valid using nbf, iat, and exp claims (if provided in the JWT).
func VerifyJWT(signedJWT *afjwt.JSONWebToken, leeway time.Duration) error {
	var claims jwt.Claims

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       maphelpers.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("decode JWT claims: %w", err)
	}

	if err = d.Decode(signedJWT.Payload); err != nil {
		return fmt.Errorf("decode JWT claims: %w", err)
	}

	// Validate checks claims in a token against expected values.
	// It is validated using the expected.Time, or time.Now if not provided.
	expected := jwt.Expected{}

	err = claims.ValidateWithLeeway(expected, leeway)
	if err != nil {
		return fmt.Errorf("invalid JWT time values: %w", err)
	}

	return nil
}

// VerifyTyp checks the typ JOSE header against an expected value.
func VerifyTyp(joseHeaders jose.Headers, expectedTyp string) error {
	typ, ok := joseHeaders.Type()
	if !ok {
		return fmt.Errorf("missing typ")
	}

	if typ != expectedTyp {
		return fmt.Errorf("unexpected typ \"%s\"", typ)
	}

	return nil
}

// CheckForDuplicates returns an error if values contains duplicate entries.
func CheckForDuplicates(values []string) error {
	var duplicates []string

	valuesMap := make(map[string]bool)

	for _, val := range values {
		if _, ok := valuesMap[val]; !ok {
			valuesMap[val] = true
		} else {
			duplicates = append(duplicates, val)
		}
	}

	if len(duplicates) > 0 {
		return fmt.Errorf("duplicate values found %v", duplicates)
	}

	return nil
}

// VerifyDisclosuresInSDJWT checks that the digest of every disclosure is committed in
// the _sd set of the issuer-signed SD-JWT. An absent digest means a claim was tampered
// with or injected after issuance.
func VerifyDisclosuresInSDJWT(disclosures []string, signedJWT *afjwt.JSONWebToken) error {
	claims := signedJWT.Payload

	cryptoHash, err := GetCryptoHashFromClaims(claims)
	if err != nil {
		return err
	}

	digests, err := GetDisclosureDigests(claims)
	if err != nil {
		return err
	}

	for _, disclosure := range disclosures {
		digest, err := GetHash(cryptoHash, disclosure)
		if err != nil {
			return err
		}

		if _, ok := digests[digest]; !ok {
			return fmt.Errorf("%w: digest '%s'", ErrDisclosureNotCommitted, digest)
		}
	}

	return nil
}
