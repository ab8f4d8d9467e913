/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package holder

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	afjose "github.com/opencred/sdjwt/doc/jose"
	afjwt "github.com/opencred/sdjwt/doc/jwt"
	"github.com/opencred/sdjwt/doc/sdjwt/common"
	"github.com/opencred/sdjwt/doc/sdjwt/issuer"
)

const (
	testIssuer = "https://example.com/issuer"
)

func TestParse(t *testing.T) {
	r := require.New(t)

	pubKey, privKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(privKey)
	claims := map[string]interface{}{"given_name": "Albert"}

	token, e := issuer.New(testIssuer, claims, nil, signer)
	r.NoError(e)
	combinedFormatForIssuance, e := token.Serialize(false)
	r.NoError(e)

	verifier, e := afjwt.NewEd25519Verifier(pubKey)
	r.NoError(e)

	t.Run("success", func(t *testing.T) {
		parsedClaims, err := Parse(combinedFormatForIssuance, WithSignatureVerifier(verifier))
		r.NoError(err)
		r.NotNil(parsedClaims)
		r.Len(parsedClaims, 1)
		r.Equal("given_name", parsedClaims[0].Name)
		r.Equal("Albert", parsedClaims[0].Value)
	})

	t.Run("success - default is no signature verification", func(t *testing.T) {
		parsedClaims, err := Parse(combinedFormatForIssuance)
		r.NoError(err)
		r.Len(parsedClaims, 1)
	})

	t.Run("error - invalid issuer signature", func(t *testing.T) {
		otherPubKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		otherVerifier, err := afjwt.NewEd25519Verifier(otherPubKey)
		r.NoError(err)

		parsedClaims, err := Parse(combinedFormatForIssuance, WithSignatureVerifier(otherVerifier))
		r.Error(err)
		r.Nil(parsedClaims)
		r.Contains(err.Error(), "signature doesn't match")
	})

	t.Run("error - signing algorithm not allowed", func(t *testing.T) {
		parsedClaims, err := Parse(combinedFormatForIssuance,
			WithSignatureVerifier(verifier),
			WithSigningAlgorithms([]string{"RS256"}))
		r.Error(err)
		r.Nil(parsedClaims)
		r.Contains(err.Error(), "failed to verify signing algorithm")
	})

	t.Run("error - expired SD-JWT", func(t *testing.T) {
		expiredToken, err := issuer.New(testIssuer, claims, nil, signer,
			issuer.WithExpiry(jwt.NewNumericDate(time.Now().Add(-time.Hour))))
		r.NoError(err)

		expiredCFI, err := expiredToken.Serialize(false)
		r.NoError(err)

		parsedClaims, err := Parse(expiredCFI, WithSignatureVerifier(verifier))
		r.Error(err)
		r.Nil(parsedClaims)
		r.Contains(err.Error(), "invalid JWT time values")
	})

	t.Run("error - duplicate disclosure", func(t *testing.T) {
		cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.Len(cfi.Disclosures, 1)

		withDuplicate := fmt.Sprintf("%s~%s~%s~", cfi.SDJWT, cfi.Disclosures[0], cfi.Disclosures[0])

		parsedClaims, err := Parse(withDuplicate, WithSignatureVerifier(verifier))
		r.Error(err)
		r.Nil(parsedClaims)
		r.Contains(err.Error(), "duplicate values found")
	})

	t.Run("error - disclosure not committed", func(t *testing.T) {
		injected, err := common.EncodeDisclosure("salt", "family_name", "Smith")
		r.NoError(err)

		cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		withInjected := fmt.Sprintf("%s~%s~%s~", cfi.SDJWT, cfi.Disclosures[0], injected)

		parsedClaims, err := Parse(withInjected, WithSignatureVerifier(verifier))
		r.Error(err)
		r.Nil(parsedClaims)
		r.True(errors.Is(err, common.ErrDisclosureNotCommitted))
	})

	t.Run("error - not a combined format for issuance", func(t *testing.T) {
		parsedClaims, err := Parse("not-a-jwt", WithSignatureVerifier(verifier))
		r.Error(err)
		r.Nil(parsedClaims)
	})
}

func TestCreatePresentation(t *testing.T) {
	r := require.New(t)

	_, privKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(privKey)
	claims := map[string]interface{}{
		"given_name": "Albert",
		"degree":     "MIT",
		"gpa":        "3.9",
	}

	token, e := issuer.New(testIssuer, claims, nil, signer)
	r.NoError(e)
	combinedFormatForIssuance, e := token.Serialize(false)
	r.NoError(e)

	t.Run("success - subset of claims", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, []string{"degree"})
		r.NoError(err)
		r.NotEmpty(presentation)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Len(cfp.Disclosures, 1)
		r.Empty(cfp.KeyBindingJWT)

		disclosed, err := common.GetDisclosureClaims(cfp.Disclosures)
		r.NoError(err)
		r.Equal("degree", disclosed[0].Name)

		// withheld disclosures do not appear anywhere in the presentation
		r.NotContains(presentation, "gpa")
		r.True(strings.HasSuffix(presentation, common.CombinedFormatSeparator))
	})

	t.Run("success - unknown claim names are ignored", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, []string{"degree", "shoe_size"})
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Len(cfp.Disclosures, 1)
	})

	t.Run("success - no claims selected", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, nil)
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Len(cfp.Disclosures, 0)
	})

	t.Run("success - with key binding", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, []string{"degree"},
			WithHolderBinding(&BindingInfo{
				Payload: BindingPayload{
					Nonce:    uuid.New().String(),
					Audience: "https://test.com/verifier",
					IssuedAt: jwt.NewNumericDate(time.Now()),
				},
				Signer: signer,
			}))
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.NotEmpty(cfp.KeyBindingJWT)
		r.Len(cfp.Disclosures, 1)
	})

	t.Run("error - no disclosures in SD-JWT", func(t *testing.T) {
		cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

		presentation, err := CreatePresentation(cfi.SDJWT, []string{"degree"})
		r.Error(err)
		r.Empty(presentation)
		r.Contains(err.Error(), "no disclosures found in SD-JWT")
	})

	t.Run("error - key binding signer failure", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, []string{"degree"},
			WithHolderBinding(&BindingInfo{
				Payload: BindingPayload{
					Nonce:    "nonce",
					Audience: "audience",
				},
				Signer: &failingSigner{},
			}))
		r.Error(err)
		r.Empty(presentation)
		r.Contains(err.Error(), "failed to create key binding")
	})
}

func TestCreateKeyBinding(t *testing.T) {
	r := require.New(t)

	pubKey, privKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(privKey)
	claims := map[string]interface{}{"given_name": "Albert"}

	token, e := issuer.New(testIssuer, claims, nil, signer)
	r.NoError(e)
	combinedFormatForIssuance, e := token.Serialize(false)
	r.NoError(e)

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	t.Run("success", func(t *testing.T) {
		keyBindingJWT, err := CreateKeyBinding(cfi.SDJWT, cfi.Disclosures, &BindingInfo{
			Payload: BindingPayload{
				Nonce:    "nonce",
				Audience: "https://test.com/verifier",
				IssuedAt: jwt.NewNumericDate(time.Now()),
			},
			Signer: signer,
		})
		r.NoError(err)
		r.NotEmpty(keyBindingJWT)

		verifier, err := afjwt.NewEd25519Verifier(pubKey)
		r.NoError(err)

		parsed, _, err := afjwt.Parse(keyBindingJWT, afjwt.WithSignatureVerifier(verifier))
		r.NoError(err)

		r.Equal(common.KeyBindingTypeHeader, parsed.LookupStringHeader(afjose.HeaderType))
		r.Equal("nonce", parsed.Payload["nonce"])
		r.Equal("https://test.com/verifier", parsed.Payload["aud"])

		cryptoHash, err := common.GetCryptoHashFromSDJWT(cfi.SDJWT)
		r.NoError(err)

		expectedSDHash, err := common.CalculateSDHash(cryptoHash, cfi.SDJWT, cfi.Disclosures)
		r.NoError(err)
		r.Equal(expectedSDHash, parsed.Payload[common.SDHashKey])
	})

	t.Run("error - SD-JWT not compact JWS", func(t *testing.T) {
		keyBindingJWT, err := CreateKeyBinding("not-a-jwt", nil, &BindingInfo{
			Payload: BindingPayload{Nonce: "nonce"},
			Signer:  signer,
		})
		r.Error(err)
		r.Empty(keyBindingJWT)
		r.Contains(err.Error(), "SD-JWT of compact JWS form is supported only")
	})
}

type failingSigner struct{}

func (s *failingSigner) Sign(_ []byte) ([]byte, error) {
	return nil, errors.New("signer failure")
}

func (s *failingSigner) Headers() afjose.Headers {
	return afjose.Headers{"alg": "EdDSA"}
}
