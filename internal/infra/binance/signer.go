package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer handles Binance API request authentication. Signed endpoints
// take a timestamp parameter and an HMAC-SHA256 hex signature over the
// full query string; the API key travels in the X-MBX-APIKEY header.
type Signer struct {
	apiKey    string
	secretKey string
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: secretKey}
}

// APIKey returns the key for the X-MBX-APIKEY header.
func (s *Signer) APIKey() string {
	return s.apiKey
}

// SignQuery appends timestamp and signature parameters to a query
// string, e.g. "symbol=BTCUSDT&side=BUY" ->
// "symbol=BTCUSDT&side=BUY&timestamp=...&signature=...".
func (s *Signer) SignQuery(query string) string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	if query != "" {
		query += "&"
	}
	query += "timestamp=" + timestamp
	return query + "&signature=" + computeHmacSha256(query, s.secretKey)
}

func computeHmacSha256(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
