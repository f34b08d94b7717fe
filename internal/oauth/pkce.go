package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/andyleap/mcpauth/internal/models"
)

// VerifyPKCE checks a code_verifier against the stored challenge (RFC 7636).
// Unknown methods never verify.
func VerifyPKCE(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}

	var computed string
	switch method {
	case models.CodeChallengeMethodPlain:
		computed = verifier
	case models.CodeChallengeMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func supportedChallengeMethod(method string) bool {
	return method == models.CodeChallengeMethodPlain || method == models.CodeChallengeMethodS256
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
