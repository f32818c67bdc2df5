package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw request body.
const SignatureHeader = "X-Hub-Signature"

const signaturePrefix = "sha256="

// Sign returns the header value for body, "sha256=<hex>".
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA256 of the raw body. The
// hex digests are compared in constant time, so any altered byte fails.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	given, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok || given == "" {
		return false
	}
	expected := Sign(body, secret)[len(signaturePrefix):]
	return hmac.Equal([]byte(expected), []byte(given))
}
