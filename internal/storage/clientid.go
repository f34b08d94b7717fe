package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/andyleap/mcpauth/internal/models"
)

const clientIDHashLength = 16

// CanonicalClientID derives a deterministic client ID from the semantic
// content of a registration: name, redirect URIs, grant types, response types
// and auth method. Array order does not matter; any content change does.
func CanonicalClientID(client *models.Client) (string, error) {
	return clientID(client, "")
}

// SaltedClientID is CanonicalClientID mixed with a random salt, so identical
// registrations get distinct IDs.
func SaltedClientID(client *models.Client) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate client id salt: %w", err)
	}
	return clientID(client, hex.EncodeToString(salt))
}

// NormalizeClientName lower-cases name and drops everything but ASCII letters and digits.
func NormalizeClientName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "client"
	}
	return b.String()
}

func clientID(client *models.Client, salt string) (string, error) {
	if client == nil {
		return "", fmt.Errorf("client is required")
	}

	// encoding/json writes map keys in sorted order, which gives the
	// canonical key ordering.
	doc := map[string]any{
		"client_name":                client.ClientName,
		"redirect_uris":              sortedCopy(client.RedirectURIs),
		"grant_types":                sortedCopy(client.GrantTypes),
		"response_types":             sortedCopy(client.ResponseTypes),
		"token_endpoint_auth_method": client.TokenEndpointAuthMethod,
	}
	if salt != "" {
		doc["salt"] = salt
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode client for hashing: %w", err)
	}
	sum := sha256.Sum256(canonical)

	return NormalizeClientName(client.ClientName) + "_" + hex.EncodeToString(sum[:])[:clientIDHashLength], nil
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	slices.Sort(out)
	return out
}
