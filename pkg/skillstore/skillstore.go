// Package skillstore canonicalizes, signs, persists, loads, verifies, and
// imports skill files produced by pkg/skillgen.
package skillstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apitap/apitap/pkg/skillgen"
	"github.com/apitap/apitap/pkg/urlsafe"
)

var (
	// ErrInvalidDomain is returned when a domain name fails the
	// path-traversal guard before being turned into a file path.
	ErrInvalidDomain = errors.New("skillstore: invalid domain name")
	// ErrSignatureInvalid is returned when a skill file's signature does
	// not match its canonical content.
	ErrSignatureInvalid = errors.New("skillstore: signature invalid")
	// ErrUnsafeURL is returned when a skill file contains a URL that
	// fails SSRF validation.
	ErrUnsafeURL = errors.New("skillstore: unsafe url")
)

var domainPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const signaturePrefix = "hmac-sha256:"

// ValidateDomain rejects empty strings, path traversal segments, slashes,
// and leading dots/hyphens before a domain name is ever turned into a
// filesystem path.
func ValidateDomain(domain string) error {
	if domain == "" || domain == ".." || !domainPattern.MatchString(domain) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	if strings.Contains(domain, "/") || strings.Contains(domain, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return nil
}

// Canonicalize serializes a skill file with its signature and provenance
// fields removed and every object's keys sorted lexicographically, the
// byte string used as HMAC input. Canonicalization is order-independent:
// it produces the same bytes regardless of the Go struct's field order.
func Canonicalize(skill skillgen.SkillFile) ([]byte, error) {
	raw, err := json.Marshal(skill)
	if err != nil {
		return nil, fmt.Errorf("skillstore: marshal: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("skillstore: unmarshal for canonicalization: %w", err)
	}
	delete(m, "signature")
	delete(m, "provenance")

	canonical, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("skillstore: marshal canonical form: %w", err)
	}
	return canonical, nil
}

// Sign computes the HMAC-SHA256 signature of a skill file's canonical form
// under key, returning it in "hmac-sha256:<hex>" form.
func Sign(skill skillgen.SkillFile, key []byte) (string, error) {
	canonical, err := Canonicalize(skill)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether skill's stored signature matches its canonical
// content under key, comparing in constant time.
func Verify(skill skillgen.SkillFile, key []byte) bool {
	if !strings.HasPrefix(skill.Signature, signaturePrefix) {
		return false
	}
	expected, err := Sign(skill, key)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(skill.Signature))
}

// Store validates domain, signs the skill file with key and marks it
// self-provenance (or, when key is nil, marks it unsigned), and writes it
// to <dir>/<domain>.json. A
// .gitignore is written into dir's parent on first use.
func Store(dir string, skill skillgen.SkillFile, key []byte) error {
	skill.Provenance = skillgen.ProvenanceSelf
	if key != nil {
		sig, err := Sign(skill, key)
		if err != nil {
			return fmt.Errorf("skillstore: sign: %w", err)
		}
		skill.Signature = sig
	} else {
		skill.Provenance = skillgen.ProvenanceUnsigned
	}
	return writeFile(dir, skill)
}

// writeFile validates domain and URLs, then writes skill to
// <dir>/<domain>.json exactly as given, without altering its provenance or
// signature fields.
func writeFile(dir string, skill skillgen.SkillFile) error {
	if err := ValidateDomain(skill.Domain); err != nil {
		return err
	}
	if err := validateURLs(skill); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("skillstore: create dir: %w", err)
	}
	if err := ensureGitignore(dir); err != nil {
		return fmt.Errorf("skillstore: gitignore: %w", err)
	}

	data, err := json.MarshalIndent(skill, "", "  ")
	if err != nil {
		return fmt.Errorf("skillstore: marshal: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, skill.Domain+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("skillstore: write %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the skill file for domain, re-validates every URL
// it contains, and, when key is non-nil, verifies its signature for every
// file except one that claims imported provenance (whose foreign signature
// was already checked and stripped at Import time). A file with missing or
// invalid provenance, or an unsigned file masquerading as something else,
// is never silently trusted just because it isn't self-provenanced.
func Load(dir, domain string, key []byte) (skillgen.SkillFile, error) {
	if err := ValidateDomain(domain); err != nil {
		return skillgen.SkillFile{}, err
	}

	path := filepath.Join(dir, domain+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return skillgen.SkillFile{}, fmt.Errorf("skillstore: read %s: %w", path, err)
	}

	var skill skillgen.SkillFile
	if err := json.Unmarshal(data, &skill); err != nil {
		return skillgen.SkillFile{}, fmt.Errorf("skillstore: parse %s: %w", path, err)
	}

	if err := validateURLs(skill); err != nil {
		return skillgen.SkillFile{}, err
	}

	if key != nil && skill.Provenance != skillgen.ProvenanceImported {
		if !Verify(skill, key) {
			return skillgen.SkillFile{}, fmt.Errorf("%w: domain %s", ErrSignatureInvalid, domain)
		}
	}

	return skill, nil
}

// Import parses a foreign skill file, validates its structure and every
// URL it contains, verifies any signature against key when key is non-nil,
// strips the signature, marks it imported, and writes it to dir.
func Import(dir string, data []byte, key []byte) (skillgen.SkillFile, error) {
	var skill skillgen.SkillFile
	if err := json.Unmarshal(data, &skill); err != nil {
		return skillgen.SkillFile{}, fmt.Errorf("skillstore: parse import: %w", err)
	}
	if err := ValidateDomain(skill.Domain); err != nil {
		return skillgen.SkillFile{}, err
	}
	if err := validateURLs(skill); err != nil {
		return skillgen.SkillFile{}, err
	}

	if skill.Signature != "" && key != nil {
		if !Verify(skill, key) {
			return skillgen.SkillFile{}, fmt.Errorf("%w: imported file for domain %s", ErrSignatureInvalid, skill.Domain)
		}
	}

	skill.Signature = ""
	skill.Provenance = skillgen.ProvenanceImported

	if err := writeFile(dir, skill); err != nil {
		return skillgen.SkillFile{}, err
	}
	return skill, nil
}

func validateURLs(skill skillgen.SkillFile) error {
	if skill.BaseURL != "" {
		if res := urlsafe.Validate(skill.BaseURL); !res.Safe {
			return fmt.Errorf("%w: baseUrl %s: %s", ErrUnsafeURL, skill.BaseURL, res.Reason)
		}
	}
	for _, ep := range skill.Endpoints {
		if ep.ExampleURL == "" {
			continue
		}
		if res := urlsafe.Validate(ep.ExampleURL); !res.Safe {
			return fmt.Errorf("%w: endpoint %s example url %s: %s", ErrUnsafeURL, ep.ID, ep.ExampleURL, res.Reason)
		}
	}
	return nil
}

func ensureGitignore(skillsDir string) error {
	parent := filepath.Dir(skillsDir)
	path := filepath.Join(parent, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	content := []byte("auth.enc\n*.key\n")
	return os.WriteFile(path, content, 0o644)
}

// ListDomains returns the domain names of every skill file in dir.
func ListDomains(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("skillstore: list %s: %w", dir, err)
	}
	var domains []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		domains = append(domains, strings.TrimSuffix(e.Name(), ".json"))
	}
	return domains, nil
}
