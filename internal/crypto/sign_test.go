package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceSignKnownVector(t *testing.T) {
	// Vector from the Binance API documentation.
	auth := &BinanceAuth{
		APIKey:    "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		SecretKey: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	}
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"

	sig := auth.Sign(query)
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", sig)
	assert.True(t, strings.HasSuffix(auth.SignedQuery(query), "&signature="+sig))
}

func TestUpbitBearerToken(t *testing.T) {
	auth := &UpbitAuth{AccessKey: "access", SecretKey: "secret"}

	tok, err := auth.bearerToken("market=KRW-BTC", "nonce-1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tok, "Bearer "))

	parts := strings.Split(strings.TrimPrefix(tok, "Bearer "), ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims upbitClaims
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, "access", claims.AccessKey)
	assert.Equal(t, "nonce-1", claims.Nonce)
	assert.Equal(t, "SHA512", claims.QueryHashAlg)
	assert.Len(t, claims.QueryHash, 128)

	// Verify the HS256 signature over header.payload.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), parts[2])
}

func TestUpbitBearerTokenNoQuery(t *testing.T) {
	auth := &UpbitAuth{AccessKey: "access", SecretKey: "secret"}

	tok, err := auth.bearerToken("", "nonce-2")
	require.NoError(t, err)

	parts := strings.Split(strings.TrimPrefix(tok, "Bearer "), ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims upbitClaims
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Empty(t, claims.QueryHash)
	assert.Empty(t, claims.QueryHashAlg)
}

func TestCredentialsRoundTrip(t *testing.T) {
	creds := Credentials{AccessKey: "AK", SecretKey: "SK"}

	blob, err := EncryptCredentials(creds, "hunter2")
	require.NoError(t, err)

	// Sanity check the on-disk shape.
	var stored encryptedCredsJSON
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Equal(t, currentVersion, stored.Version)

	got, err := DecryptCredentials(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	_, err = DecryptCredentials(blob, "wrong-password")
	assert.Error(t, err)
}

func TestLoadCredentialsPlaintextPrecedence(t *testing.T) {
	got, err := LoadCredentials(CredentialConfig{AccessKey: "a", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, Credentials{AccessKey: "a", SecretKey: "s"}, got)

	_, err = LoadCredentials(CredentialConfig{})
	assert.Error(t, err)
}
