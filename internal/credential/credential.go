// Package credential encrypts API keys before they are written to the
// configuration file. Values are sealed with AES-256-GCM under a key derived
// from the machine, or from TERMAX_SECRET when that is set.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// EncryptedPrefix marks values as encrypted in the configuration file.
const EncryptedPrefix = "enc:v1:"

// SecretEnv overrides the machine-derived key, for hosts whose name or home
// directory is not stable (containers, CI).
const SecretEnv = "TERMAX_SECRET"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens credential values.
type Manager struct {
	aead cipher.AEAD
}

// NewManager uses TERMAX_SECRET if set, otherwise a machine-derived key, so
// values can only be decrypted where they were written.
func NewManager() (*Manager, error) {
	if secret := os.Getenv(SecretEnv); secret != "" {
		return NewManagerWithSecret(secret)
	}
	return newManager(machineKey())
}

// NewManagerWithSecret derives the key from a passphrase.
func NewManagerWithSecret(secret string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("empty secret")
	}
	key := sha256.Sum256([]byte("termax-secret-v1:" + secret))
	return newManager(key[:])
}

func newManager(key []byte) (*Manager, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{aead: aead}, nil
}

// Encrypt returns the storable form of plaintext. Empty and already
// encrypted values are returned unchanged.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored value. Values without the prefix are plaintext
// written by hand and are returned as-is.
func (m *Manager) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	n := m.aead.NonceSize()
	if len(sealed) < n {
		return "", ErrInvalidFormat
	}

	plaintext, err := m.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted checks if a value is already encrypted.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// IsSecretKey reports whether a dotted configuration key holds a credential.
func IsSecretKey(key string) bool {
	key = strings.ToLower(key)
	return strings.HasSuffix(key, "api_key") || strings.HasSuffix(key, "secret")
}

// machineKey hashes host identifiers that are stable across restarts.
func machineKey() []byte {
	var entropy strings.Builder

	hostname, _ := os.Hostname()
	entropy.WriteString(hostname)

	home, _ := os.UserHomeDir()
	entropy.WriteString(home)

	entropy.WriteString(runtime.GOOS)
	entropy.WriteString(runtime.GOARCH)
	entropy.WriteString("termax-credential-manager-v1")

	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&entropy, "uid:%d", uid)
	}
	if username := os.Getenv("USER"); username != "" {
		entropy.WriteString(username)
	}

	hash := sha256.Sum256([]byte(entropy.String()))
	return hash[:]
}

// MaskSecret returns a masked version of a secret for display purposes.
// Shows only the first and last 4 characters if the secret is long enough.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
