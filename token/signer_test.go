package token_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/membank/authserver/token"
)

func TestHMACSigner(t *testing.T) {
	_, err := token.NewHMACSigner("")
	require.Error(t, err)

	signer, err := token.NewHMACSigner(testSecret)
	require.NoError(t, err)

	signed, err := signer.Sign(jwt.MapClaims{"sub": "user-1"})
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, signer.GetVerificationKey)
	require.NoError(t, err)
	require.Equal(t, "user-1", parsed.Claims.(jwt.MapClaims)["sub"])
}

func TestHMACSignerRejectsOtherAlgorithms(t *testing.T) {
	signer, err := token.NewHMACSigner(testSecret)
	require.NoError(t, err)

	// An unsigned token must not verify against the HMAC key.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = jwt.Parse(unsigned, signer.GetVerificationKey)
	require.Error(t, err)
}

func TestRSASigner(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	signer, err := token.NewRSASigner(pemBytes)
	require.NoError(t, err)

	signed, err := signer.Sign(jwt.MapClaims{"sub": "user-1"})
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, signer.GetVerificationKey)
	require.NoError(t, err)
	require.Equal(t, "user-1", parsed.Claims.(jwt.MapClaims)["sub"])
}

func TestRSASignerRejectsBadPEM(t *testing.T) {
	_, err := token.NewRSASigner([]byte("not pem at all"))
	require.Error(t, err)
}
