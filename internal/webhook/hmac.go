package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const signaturePrefix = "sha256="

// errVerification is the only error the signature check surfaces, whatever
// the failure mode, so a probing sender learns nothing from the response.
var errVerification = errors.New("webhook verification failed")

// verifySignature checks the X-Hub-Signature-256 header value against the
// delivery body: "sha256=" followed by hex HMAC-SHA256(secret, body).
// Comparison is constant-time.
func verifySignature(body []byte, header, secret string) error {
	if secret == "" || header == "" {
		return errVerification
	}

	hexDigest, found := strings.CutPrefix(header, signaturePrefix)
	if !found {
		return errVerification
	}
	claimed, err := hex.DecodeString(hexDigest)
	if err != nil {
		return errVerification
	}

	if subtle.ConstantTimeCompare(claimed, digest(body, secret)) != 1 {
		return errVerification
	}
	return nil
}

func digest(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// signBody produces the header value a sender would attach for body.
func signBody(body []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(digest(body, secret))
}
