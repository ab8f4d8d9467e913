/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"testing"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/stretchr/testify/require"

	"github.com/opencred/sdjwt/doc/jose"
)

type testClaims struct {
	Issuer  string `json:"iss,omitempty"`
	Subject string `json:"sub,omitempty"`
}

func TestNewSigned_EdDSA(t *testing.T) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	claims := &testClaims{Issuer: "https://example.com/issuer", Subject: "did:example:holder"}

	token, err := NewSigned(claims, nil, NewEd25519Signer(privKey))
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)
	require.True(t, IsJWS(serialized))

	verifier, err := NewEd25519Verifier(pubKey)
	require.NoError(t, err)

	parsed, _, err := Parse(serialized, WithSignatureVerifier(verifier))
	require.NoError(t, err)

	var parsedClaims testClaims
	require.NoError(t, parsed.DecodeClaims(&parsedClaims))
	require.Equal(t, *claims, parsedClaims)

	t.Run("error - invalid signature", func(t *testing.T) {
		otherPubKey, _, gErr := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, gErr)

		otherVerifier, vErr := NewEd25519Verifier(otherPubKey)
		require.NoError(t, vErr)

		parsed, _, pErr := Parse(serialized, WithSignatureVerifier(otherVerifier))
		require.Error(t, pErr)
		require.Contains(t, pErr.Error(), "signature doesn't match")
		require.Nil(t, parsed)
	})

	t.Run("error - bad public key length", func(t *testing.T) {
		verifier, vErr := NewEd25519Verifier([]byte("too short"))
		require.Error(t, vErr)
		require.Contains(t, vErr.Error(), "bad ed25519 public key length")
		require.Nil(t, verifier)
	})
}

func TestNewSigned_RS256(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	token, err := NewSigned(&testClaims{Issuer: "issuer"}, nil, NewRS256Signer(privKey, nil))
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)

	parsed, _, err := Parse(serialized, WithSignatureVerifier(NewRS256Verifier(&privKey.PublicKey)))
	require.NoError(t, err)
	require.Equal(t, "issuer", parsed.Payload["iss"])

	t.Run("error - wrong key", func(t *testing.T) {
		otherKey, gErr := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, gErr)

		_, _, pErr := Parse(serialized, WithSignatureVerifier(NewRS256Verifier(&otherKey.PublicKey)))
		require.Error(t, pErr)
	})
}

func TestNewUnsecured(t *testing.T) {
	token, err := NewUnsecured(&testClaims{Issuer: "issuer"}, map[string]interface{}{"custom": "ok"})
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)
	require.True(t, IsJWTUnsecured(serialized))

	parsed, _, err := Parse(serialized, WithSignatureVerifier(UnsecuredJWTVerifier()))
	require.NoError(t, err)
	require.Equal(t, "ok", parsed.LookupStringHeader("custom"))
	require.Equal(t, AlgorithmNone, parsed.LookupStringHeader(jose.HeaderAlgorithm))
}

func TestParse_Errors(t *testing.T) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	verifier, err := NewEd25519Verifier(pubKey)
	require.NoError(t, err)

	t.Run("error - not compact JWS", func(t *testing.T) {
		parsed, _, pErr := Parse(`{"some": "JSON"}`, WithSignatureVerifier(verifier))
		require.Error(t, pErr)
		require.EqualError(t, pErr, "JWT of compacted JWS form is supported only")
		require.Nil(t, parsed)
	})

	t.Run("error - invalid typ header", func(t *testing.T) {
		headers := map[string]interface{}{jose.HeaderType: "not-a-jwt-type"}

		token, sErr := NewSigned(&testClaims{Issuer: "issuer"}, headers, NewEd25519Signer(privKey))
		require.NoError(t, sErr)

		serialized, sErr := token.Serialize(false)
		require.NoError(t, sErr)

		parsed, _, pErr := Parse(serialized, WithSignatureVerifier(verifier))
		require.Error(t, pErr)
		require.Contains(t, pErr.Error(), "typ is not JWT")
		require.Nil(t, parsed)
	})

	t.Run("error - nested JWT not supported", func(t *testing.T) {
		headers := map[string]interface{}{jose.HeaderContentType: TypeJWT}

		token, sErr := NewSigned(&testClaims{Issuer: "issuer"}, headers, NewEd25519Signer(privKey))
		require.NoError(t, sErr)

		serialized, sErr := token.Serialize(false)
		require.NoError(t, sErr)

		parsed, _, pErr := Parse(serialized, WithSignatureVerifier(verifier))
		require.Error(t, pErr)
		require.Contains(t, pErr.Error(), "nested JWT is not supported")
		require.Nil(t, parsed)
	})
}

func TestCheckHeaders_ExplicitTyping(t *testing.T) {
	require.NoError(t, CheckHeaders(map[string]interface{}{"alg": "ES256", "typ": "JWT"}))
	require.NoError(t, CheckHeaders(map[string]interface{}{"alg": "ES256", "typ": "kb+jwt"}))
	require.NoError(t, CheckHeaders(map[string]interface{}{"alg": "ES256", "typ": "example+sd-jwt"}))

	err := CheckHeaders(map[string]interface{}{"alg": "ES256", "typ": "example+unknown"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid typ header")

	err = CheckHeaders(map[string]interface{}{"typ": "JWT"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "alg header is not defined")

	err = CheckHeaders(map[string]interface{}{"alg": "ES256", "typ": 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid typ header format")
}

func TestJSONWebToken_DetachedPayload(t *testing.T) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	verifier, err := NewEd25519Verifier(pubKey)
	require.NoError(t, err)

	token, err := NewSigned(&testClaims{Issuer: "issuer"}, nil, NewEd25519Signer(privKey))
	require.NoError(t, err)

	serialized, err := token.Serialize(false)
	require.NoError(t, err)

	parts := strings.Split(serialized, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	detached := parts[0] + ".." + parts[2]

	parsed, _, err := Parse(detached, WithJWTDetachedPayload(payload), WithSignatureVerifier(verifier))
	require.NoError(t, err)
	require.Equal(t, "issuer", parsed.Payload["iss"])
}

func TestGetVerifier(t *testing.T) {
	t.Run("success - P-256 key", func(t *testing.T) {
		privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		verifier, err := GetVerifier(&gojose.JSONWebKey{Key: &privKey.PublicKey})
		require.NoError(t, err)
		require.IsType(t, &ES256Verifier{}, verifier)
	})

	t.Run("success - ed25519 key", func(t *testing.T) {
		pubKey, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		verifier, err := GetVerifier(&gojose.JSONWebKey{Key: pubKey})
		require.NoError(t, err)
		require.IsType(t, &Ed25519Verifier{}, verifier)
	})

	t.Run("success - RSA key", func(t *testing.T) {
		privKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		verifier, err := GetVerifier(&gojose.JSONWebKey{Key: &privKey.PublicKey})
		require.NoError(t, err)
		require.IsType(t, &RS256Verifier{}, verifier)
	})

	t.Run("error - unsupported curve", func(t *testing.T) {
		privKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)

		verifier, err := GetVerifier(&gojose.JSONWebKey{Key: &privKey.PublicKey})
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported ecdsa curve")
		require.Nil(t, verifier)
	})

	t.Run("error - unsupported key type", func(t *testing.T) {
		verifier, err := GetVerifier(&gojose.JSONWebKey{Key: []byte("symmetric")})
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported public key type")
		require.Nil(t, verifier)
	})
}

func TestPayloadToMap(t *testing.T) {
	m, err := PayloadToMap(map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "v", m["k"])

	m, err = PayloadToMap(`{"k": "v"}`)
	require.NoError(t, err)
	require.Equal(t, "v", m["k"])

	m, err = PayloadToMap([]byte(`{"k": "v"}`))
	require.NoError(t, err)
	require.Equal(t, "v", m["k"])

	m, err = PayloadToMap(&testClaims{Issuer: "issuer"})
	require.NoError(t, err)
	require.Equal(t, "issuer", m["iss"])

	m, err = PayloadToMap("not JSON")
	require.Error(t, err)
	require.Nil(t, m)
}
