package nowpayments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the callback body.
const SignatureHeader = "x-nowpayments-sig"

// VerifySignature recomputes the HMAC-SHA512 of the raw body with the IPN secret and compares it
// in constant time. The provider signs the key-sorted JSON document, so the canonical form of the
// body is accepted as well.
func (c *Client) VerifySignature(rawPayload []byte, signatureHeader string) bool {
	if c == nil {
		return false
	}
	return VerifySignature(c.ipnSecret, rawPayload, signatureHeader)
}

// VerifySignature is the secret-explicit form of Client.VerifySignature.
func VerifySignature(secret string, rawPayload []byte, signatureHeader string) bool {
	if secret == "" || len(rawPayload) == 0 {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil || len(provided) != sha512.Size {
		return false
	}
	if hmac.Equal(provided, sign(secret, rawPayload)) {
		return true
	}
	canonical, err := canonicalJSON(rawPayload)
	if err != nil || bytes.Equal(canonical, rawPayload) {
		return false
	}
	return hmac.Equal(provided, sign(secret, canonical))
}

// Sign returns the hex signature the provider would send for body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// canonicalJSON re-encodes a document with object keys sorted and no insignificant whitespace.
func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
