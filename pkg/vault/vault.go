// Package vault provides an AES-256-GCM encrypted, file-backed key→credential
// store keyed to this machine's identity. It persists StoredAuth records so
// the replay engine and OAuth refresh dispatcher can inject live credentials
// without ever writing them into a skill file.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const authFileName = "auth.enc"

// SessionToken is a refreshable, server-issued value the client echoes back
// (CSRF token, nonce) — distinct from user credentials.
type SessionToken struct {
	Value       string     `json:"value"`
	RefreshedAt time.Time  `json:"refreshedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// BrowserSession is a cached cookie jar snapshot from the instrumented
// browser, reusable across replays until MaxAge elapses.
type BrowserSession struct {
	Cookies map[string]string `json:"cookies"`
	SavedAt time.Time         `json:"savedAt"`
	MaxAge  int64             `json:"maxAge"` // seconds
}

// Expired reports whether the session has outlived its MaxAge.
func (s BrowserSession) Expired(now time.Time) bool {
	if s.MaxAge <= 0 {
		return false
	}
	return now.After(s.SavedAt.Add(time.Duration(s.MaxAge) * time.Second))
}

// StoredAuth is the per-domain credential record. HeaderValue is the literal
// value injected as HeaderName on replay; Tokens holds refreshable session
// tokens keyed by name; the OAuth fields back pkg/oauthrefresh.
type StoredAuth struct {
	Type        string                  `json:"type"` // bearer, api-key, cookie, custom
	HeaderName  string                  `json:"headerName"`
	HeaderValue string                  `json:"headerValue"`
	Tokens      map[string]SessionToken `json:"tokens,omitempty"`
	Session     *BrowserSession         `json:"session,omitempty"`

	OAuthRefreshToken string `json:"oauthRefreshToken,omitempty"`
	OAuthClientSecret string `json:"oauthClientSecret,omitempty"`
}

// encryptedFile is the on-disk wire format of auth.enc (spec §6).
type encryptedFile struct {
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// Vault is a process-wide handle to the encrypted credential store. All
// writes are serialized through a single mutex so read-modify-write cycles
// never race within one process, per spec §5.
type Vault struct {
	mu      sync.Mutex
	baseDir string
	log     *slog.Logger
}

// Open creates or opens the vault rooted at baseDir, ensuring the directory
// and per-install salt exist.
func Open(baseDir string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create base dir: %w", err)
	}
	if _, err := loadOrCreateInstallSalt(baseDir); err != nil {
		return nil, err
	}
	return &Vault{baseDir: baseDir, log: logger}, nil
}

func (v *Vault) authPath() string {
	return filepath.Join(v.baseDir, authFileName)
}

// load decrypts the on-disk map. A missing file or any decryption failure
// yields an empty map — per spec §4.2 / §7, credential
// absence and credential corruption are indistinguishable to callers.
func (v *Vault) load() map[string]StoredAuth {
	data, err := os.ReadFile(v.authPath())
	if err != nil {
		return map[string]StoredAuth{}
	}

	var ef encryptedFile
	if err := json.Unmarshal(data, &ef); err != nil {
		v.log.Warn("vault: corrupt auth file, treating as empty", "error", err)
		return map[string]StoredAuth{}
	}

	plaintext, err := decrypt(ef, machineIdentifier())
	if err != nil {
		v.log.Warn("vault: decrypt failed, treating as empty", "error", err)
		return map[string]StoredAuth{}
	}

	var m map[string]StoredAuth
	if err := json.Unmarshal(plaintext, &m); err != nil {
		v.log.Warn("vault: corrupt plaintext, treating as empty", "error", err)
		return map[string]StoredAuth{}
	}
	return m
}

// save encrypts and atomically replaces the auth file, then enforces 0600.
func (v *Vault) save(m map[string]StoredAuth) error {
	plaintext, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("vault: marshal: %w", err)
	}

	salt, err := loadOrCreateInstallSalt(v.baseDir)
	if err != nil {
		return err
	}

	ef, err := encrypt(plaintext, machineIdentifier(), salt)
	if err != nil {
		return fmt.Errorf("vault: encrypt: %w", err)
	}

	data, err := json.Marshal(ef)
	if err != nil {
		return fmt.Errorf("vault: marshal envelope: %w", err)
	}

	tmp := v.authPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("vault: write temp: %w", err)
	}
	if err := os.Rename(tmp, v.authPath()); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	if err := os.Chmod(v.authPath(), 0o600); err != nil {
		return fmt.Errorf("vault: chmod: %w", err)
	}
	return nil
}

func encrypt(plaintext []byte, machineID string, salt []byte) (encryptedFile, error) {
	key := deriveKey(machineID, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return encryptedFile{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return encryptedFile{}, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return encryptedFile{}, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return encryptedFile{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

func decrypt(ef encryptedFile, machineID string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(ef.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ef.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ef.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(ef.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}

	key := deriveKey(machineID, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	return gcm.Open(nil, iv, sealed, nil)
}

// Store overwrites the StoredAuth for domain.
func (v *Vault) Store(domain string, auth StoredAuth) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	m[domain] = auth
	return v.save(m)
}

// Retrieve returns the StoredAuth for domain, or nil if absent or the store
// could not be decrypted. It never distinguishes the two (spec §4.2/§7).
func (v *Vault) Retrieve(domain string) *StoredAuth {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	if a, ok := m[domain]; ok {
		return &a
	}
	return nil
}

// Has reports whether domain has a stored credential.
func (v *Vault) Has(domain string) bool {
	return v.Retrieve(domain) != nil
}

// ListDomains returns all domains with stored credentials.
func (v *Vault) ListDomains() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	out := make([]string, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	return out
}

// Clear deletes the stored credential for domain.
func (v *Vault) Clear(domain string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	delete(m, domain)
	return v.save(m)
}

var errNoSuchDomain = errors.New("vault: no stored auth for domain")

// StoreTokens merges refreshable session tokens into the domain's record,
// preserving every sibling field (HeaderValue, Session, OAuth credentials).
func (v *Vault) StoreTokens(domain string, tokens map[string]SessionToken) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	a := m[domain]
	if a.Tokens == nil {
		a.Tokens = map[string]SessionToken{}
	}
	for k, t := range tokens {
		a.Tokens[k] = t
	}
	m[domain] = a
	return v.save(m)
}

// RetrieveTokens returns the stored session tokens for domain, or nil.
func (v *Vault) RetrieveTokens(domain string) map[string]SessionToken {
	a := v.Retrieve(domain)
	if a == nil {
		return nil
	}
	return a.Tokens
}

// StoreSession merges a cached browser session into the domain's record.
func (v *Vault) StoreSession(domain string, session BrowserSession) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	a := m[domain]
	a.Session = &session
	m[domain] = a
	return v.save(m)
}

// RetrieveSession returns the cached browser session for domain, or nil.
func (v *Vault) RetrieveSession(domain string) *BrowserSession {
	a := v.Retrieve(domain)
	if a == nil {
		return nil
	}
	return a.Session
}

// RetrieveSessionWithFallback tries domain, then each suffix dropping one
// label at a time, stopping at two labels — so dashboard.x.tv can reuse a
// session captured for x.tv.
func (v *Vault) RetrieveSessionWithFallback(domain string) (*BrowserSession, string) {
	candidates := suffixCandidates(domain)
	for _, d := range candidates {
		if s := v.RetrieveSession(d); s != nil {
			return s, d
		}
	}
	return nil, ""
}

func suffixCandidates(domain string) []string {
	labels := strings.Split(domain, ".")
	var out []string
	for i := 0; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".")
		remaining := len(labels) - i
		if remaining < 2 {
			break
		}
		out = append(out, suffix)
	}
	if len(out) == 0 {
		out = append(out, domain)
	}
	return out
}

// OAuthCredentials bundles the refresh token and client secret extracted
// from captured OAuth token exchanges.
type OAuthCredentials struct {
	RefreshToken string
	ClientSecret string
}

// StoreOAuthCredentials merges non-empty fields into the domain's record.
// A subsequent store with an empty RefreshToken never blanks an existing
// one (spec §4.7 "never overwrite a non-null refreshToken with null").
func (v *Vault) StoreOAuthCredentials(domain string, creds OAuthCredentials) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	a := m[domain]
	if creds.RefreshToken != "" {
		a.OAuthRefreshToken = creds.RefreshToken
	}
	if creds.ClientSecret != "" {
		a.OAuthClientSecret = creds.ClientSecret
	}
	m[domain] = a
	return v.save(m)
}

// RetrieveOAuthCredentials returns the stored OAuth credentials for domain.
func (v *Vault) RetrieveOAuthCredentials(domain string) OAuthCredentials {
	a := v.Retrieve(domain)
	if a == nil {
		return OAuthCredentials{}
	}
	return OAuthCredentials{RefreshToken: a.OAuthRefreshToken, ClientSecret: a.OAuthClientSecret}
}

// UpdateAccessToken rewrites the bearer header value after a successful
// refresh, preserving every sibling field.
func (v *Vault) UpdateAccessToken(domain, newAccessToken string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.load()
	a, ok := m[domain]
	if !ok {
		return errNoSuchDomain
	}
	a.HeaderValue = "Bearer " + newAccessToken
	m[domain] = a
	return v.save(m)
}
