package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha512"
)

const (
	pbkdf2Iterations = 100_000
	keyLenBytes      = 32
	saltFileName     = "install-salt"
	saltLenBytes     = 32
)

// machineIdentifier resolves a stable per-machine string used as PBKDF2
// input material. It checks APITAP_MACHINE_ID, then /etc/machine-id, then
// falls back to hostname+home directory.
func machineIdentifier() string {
	if v := os.Getenv("APITAP_MACHINE_ID"); v != "" {
		return v
	}
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		id := trimNewline(string(data))
		if id != "" {
			return id
		}
	}
	host, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	return "fallback:" + host + ":" + home
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// loadOrCreateInstallSalt reads <baseDir>/install-salt, creating a random
// 32-byte salt with owner-only permissions on first use.
func loadOrCreateInstallSalt(baseDir string) ([]byte, error) {
	path := filepath.Join(baseDir, saltFileName)

	if data, err := os.ReadFile(path); err == nil && len(data) == saltLenBytes {
		return data, nil
	}

	salt := make([]byte, saltLenBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generate install salt: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create base dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("vault: write install salt: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return nil, fmt.Errorf("vault: chmod install salt: %w", err)
	}
	return salt, nil
}

// deriveKey derives a 32-byte AES-256 key from the machine identifier and
// per-install salt using PBKDF2-HMAC-SHA512.
func deriveKey(machineID string, salt []byte) []byte {
	return pbkdf2.Key([]byte(machineID), salt, pbkdf2Iterations, keyLenBytes, sha512.New)
}

// fingerprint returns a short, non-reversible identifier for the derived
// key, useful for diagnostics without ever logging key material.
func fingerprint(key []byte) string {
	h := sha256.Sum256(key)
	return hex.EncodeToString(h[:8])
}
