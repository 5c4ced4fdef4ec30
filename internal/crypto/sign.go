package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// UpbitAuth signs Upbit REST requests. Upbit authenticates with a JWT bearer
// token whose payload carries the access key, a per-request nonce, and a
// SHA-512 hash of the URL query string.
type UpbitAuth struct {
	AccessKey string
	SecretKey string
}

// upbitClaims is the JWT payload for an Upbit request.
type upbitClaims struct {
	AccessKey    string `json:"access_key"`
	Nonce        string `json:"nonce"`
	QueryHash    string `json:"query_hash,omitempty"`
	QueryHashAlg string `json:"query_hash_alg,omitempty"`
}

// BearerToken returns the Authorization header value ("Bearer <jwt>") for a
// request with the given raw query string. Pass an empty string for requests
// without query parameters.
func (a *UpbitAuth) BearerToken(rawQuery string) (string, error) {
	return a.bearerToken(rawQuery, uuid.NewString())
}

// bearerToken builds the JWT with a caller-supplied nonce so tests can be
// deterministic.
func (a *UpbitAuth) bearerToken(rawQuery, nonce string) (string, error) {
	claims := upbitClaims{
		AccessKey: a.AccessKey,
		Nonce:     nonce,
	}
	if rawQuery != "" {
		sum := sha512.Sum512([]byte(rawQuery))
		claims.QueryHash = hex.EncodeToString(sum[:])
		claims.QueryHashAlg = "SHA512"
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("crypto: encoding JWT claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadJSON)

	signingInput := header + "." + payload
	mac := hmac.New(sha256.New, []byte(a.SecretKey))
	mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return "Bearer " + signingInput + "." + sig, nil
}

// BinanceAuth signs Binance REST requests. Binance authenticates with an
// X-MBX-APIKEY header plus a hex HMAC-SHA256 signature over the full query
// string appended as the "signature" parameter.
type BinanceAuth struct {
	APIKey    string
	SecretKey string
}

// Sign returns the hex signature for the given query string (which must
// already include the timestamp parameter).
func (a *BinanceAuth) Sign(rawQuery string) string {
	mac := hmac.New(sha256.New, []byte(a.SecretKey))
	mac.Write([]byte(rawQuery))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery appends the signature parameter to rawQuery.
func (a *BinanceAuth) SignedQuery(rawQuery string) string {
	return rawQuery + "&signature=" + a.Sign(rawQuery)
}
