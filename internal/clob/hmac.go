package clob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// l2Signature computes the HMAC-SHA256 request signature for api-key auth.
// The signed message is timestamp + method + path + body, keyed with the
// base64-decoded api secret. The digest goes back out base64url encoded with
// padding kept, matching what the CLOB verifies against.
func l2Signature(secret string, timestamp int64, method, requestPath string, body []byte) (string, error) {
	key, err := decodeAPISecret(secret)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(requestPath))
	mac.Write(body)

	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	sig = strings.ReplaceAll(sig, "+", "-")
	return strings.ReplaceAll(sig, "/", "_"), nil
}

// decodeAPISecret accepts the secret in standard or url-safe base64, with or
// without padding, and drops any stray characters before decoding.
func decodeAPISecret(secret string) ([]byte, error) {
	s := strings.TrimSpace(secret)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '+' || r == '/' || r == '=':
			return r
		}
		return -1
	}, s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}

	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	return key, nil
}
