// Package auth provides API key generation and bcrypt-backed validation for
// the certsweep API server. Keys are never stored; the configuration only
// carries their bcrypt hashes.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of a key
	APIKeyLength = 32
	// APIKeyPrefix marks certsweep keys
	APIKeyPrefix = "cs"
	// BcryptCost is the work factor for stored hashes
	BcryptCost = 12
	// BcryptMaxInputLength is bcrypt's input limit
	BcryptMaxInputLength = 72

	MaxAPIKeyNameLength = 255

	displayRandomChars = 8
	minKeyLength       = 15
	maxKeyLength       = 50
)

// hashCost is lowered in tests.
var hashCost = BcryptCost

// GeneratedAPIKey is a fresh key. Key is shown once; Hash goes into
// api.api_key_hashes.
type GeneratedAPIKey struct {
	Name          string    `json:"name"`
	Key           string    `json:"key"`
	Hash          string    `json:"hash"`
	DisplayPrefix string    `json:"display_prefix"`
	CreatedAt     time.Time `json:"created_at"`
}

// GenerateAPIKey creates and hashes a new key labelled name.
func GenerateAPIKey(name string) (*GeneratedAPIKey, error) {
	if err := validateKeyName(name); err != nil {
		return nil, fmt.Errorf("invalid key name: %w", err)
	}

	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters
	randomPart := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes))
	randomPart = randomPart[:APIKeyLength]
	key := APIKeyPrefix + "_" + randomPart

	hash, err := HashAPIKey(key)
	if err != nil {
		return nil, err
	}

	return &GeneratedAPIKey{
		Name:          name,
		Key:           key,
		Hash:          hash,
		DisplayPrefix: DisplayPrefix(key),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// keyMaterial applies the SHA-256 pre-hash bcrypt needs for inputs over 72 bytes.
func keyMaterial(apiKey string) []byte {
	keyBytes := []byte(apiKey)
	if len(keyBytes) > BcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return keyBytes
}

// HashAPIKey returns the bcrypt hash of apiKey.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(keyMaterial(apiKey), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey reports whether apiKey matches storedHash.
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), keyMaterial(apiKey)) == nil
}

// IsValidAPIKeyFormat checks prefix, length and alphabet.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < minKeyLength || len(apiKey) > maxKeyLength {
		return false
	}
	for _, char := range apiKey {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' {
			return false
		}
	}
	return true
}

// DisplayPrefix returns a log-safe prefix such as "cs_abcdefgh...".
func DisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}
	random := strings.TrimPrefix(apiKey, APIKeyPrefix+"_")
	if len(random) > displayRandomChars {
		random = random[:displayRandomChars]
	}
	return APIKeyPrefix + "_" + random + "..."
}

func validateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("key name cannot be empty")
	}
	if len(name) > MaxAPIKeyNameLength {
		return fmt.Errorf("key name must be at most %d characters", MaxAPIKeyNameLength)
	}

	for _, char := range name {
		// ASCII and C1 controls, bidi overrides and isolates
		if char < 32 || char == 127 ||
			(char >= 0x0080 && char <= 0x009F) ||
			(char >= 0x202A && char <= 0x202E) ||
			(char >= 0x2066 && char <= 0x2069) {
			return fmt.Errorf("key name contains invalid characters")
		}
	}
	return nil
}

// Keyring validates presented keys against a fixed set of bcrypt hashes.
// Accepted keys are remembered by SHA-256 digest so repeat requests skip
// bcrypt.
type Keyring struct {
	hashes   []string
	accepted sync.Map
}

// NewKeyring creates a keyring. Blank hashes are ignored.
func NewKeyring(hashes []string) *Keyring {
	k := &Keyring{}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			k.hashes = append(k.hashes, h)
		}
	}
	return k
}

// Len returns the number of configured hashes.
func (k *Keyring) Len() int { return len(k.hashes) }

// Validate reports whether apiKey matches any configured hash.
func (k *Keyring) Validate(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	digest := sha256.Sum256([]byte(apiKey))
	if _, ok := k.accepted.Load(digest); ok {
		return true
	}

	for _, hash := range k.hashes {
		if ValidateAPIKey(apiKey, hash) {
			k.accepted.Store(digest, struct{}{})
			return true
		}
	}
	return false
}
