package skillstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apitap/apitap/pkg/skillgen"
)

func sampleSkill(domain string) skillgen.SkillFile {
	return skillgen.SkillFile{
		Version:    "1.2",
		Domain:     domain,
		BaseURL:    "https://" + domain,
		CapturedAt: time.Now().UTC(),
		Endpoints: []skillgen.Endpoint{
			{ID: "get-items", Method: "GET", Path: "/items", ExampleURL: "https://" + domain + "/items",
				ResponseShape: skillgen.ResponseShape{Type: "array"}},
		},
		Metadata: skillgen.Metadata{CaptureCount: 1, ToolVersion: "test"},
	}
}

func TestValidateDomain(t *testing.T) {
	cases := []struct {
		domain string
		valid  bool
	}{
		{"api.example.com", true},
		{"x", true},
		{"", false},
		{"..", false},
		{"../etc", false},
		{"/etc/passwd", false},
		{"-leading-hyphen.com", false},
		{".leading-dot.com", false},
	}
	for _, tc := range cases {
		err := ValidateDomain(tc.domain)
		if tc.valid && err != nil {
			t.Errorf("ValidateDomain(%q) = %v, want nil", tc.domain, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("ValidateDomain(%q) = nil, want error", tc.domain)
		}
	}
}

func TestCanonicalize_OrderIndependent(t *testing.T) {
	skill := sampleSkill("api.example.com")
	skill.Signature = "hmac-sha256:deadbeef"
	skill.Provenance = skillgen.ProvenanceSelf

	a, err := Canonicalize(skill)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	// A struct with different field assignment order still serializes to
	// the same map and thus the same canonical bytes.
	skill2 := sampleSkill("api.example.com")
	skill2.Provenance = skillgen.ProvenanceImported
	skill2.Signature = "hmac-sha256:cafef00d"

	b, err := Canonicalize(skill2)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	if string(a) != string(b) {
		t.Fatalf("canonical forms differ despite only signature/provenance changing:\na=%s\nb=%s", a, b)
	}
}

func TestSignAndVerify(t *testing.T) {
	key := []byte("test-key")
	skill := sampleSkill("api.example.com")

	sig, err := Sign(skill, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	skill.Signature = sig

	if !Verify(skill, key) {
		t.Fatal("Verify should succeed with matching key")
	}
	if Verify(skill, []byte("wrong-key")) {
		t.Fatal("Verify should fail with wrong key")
	}

	skill.Domain = "tampered.com"
	if Verify(skill, key) {
		t.Fatal("Verify should fail after content is tampered with")
	}
}

func TestStoreAndLoad_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	key := []byte("test-key")
	skill := sampleSkill("api.example.com")

	if err := Store(dir, skill, key); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := Load(dir, "api.example.com", key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Provenance != skillgen.ProvenanceSelf {
		t.Fatalf("Provenance = %q, want self", loaded.Provenance)
	}
	if len(loaded.Endpoints) != 1 {
		t.Fatalf("Endpoints = %v", loaded.Endpoints)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), ".gitignore")); err != nil {
		t.Fatalf(".gitignore not written: %v", err)
	}
}

func TestLoad_RejectsTamperedSignature(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	key := []byte("test-key")
	if err := Store(dir, sampleSkill("api.example.com"), key); err != nil {
		t.Fatalf("Store: %v", err)
	}

	path := filepath.Join(dir, "api.example.com.json")
	data, _ := os.ReadFile(path)
	var m map[string]interface{}
	json.Unmarshal(data, &m)
	m["baseUrl"] = "https://tampered.example.com"
	tampered, _ := json.Marshal(m)
	os.WriteFile(path, tampered, 0o644)

	if _, err := Load(dir, "api.example.com", key); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestLoad_RejectsUnsignedFileWhenKeyProvided(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	if err := Store(dir, sampleSkill("api.example.com"), nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, err := Load(dir, "api.example.com", []byte("test-key")); err == nil {
		t.Fatal("expected unsigned file to be rejected once a signing key is supplied")
	}

	if _, err := Load(dir, "api.example.com", nil); err != nil {
		t.Fatalf("Load without a key should still succeed: %v", err)
	}
}

func TestStore_RejectsUnsafeBaseURL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	skill := sampleSkill("internal.example.com")
	skill.BaseURL = "http://127.0.0.1/"

	if err := Store(dir, skill, nil); err == nil {
		t.Fatal("expected unsafe baseUrl to be rejected")
	}
}

func TestImport_StripsForeignSignatureAndSetsImportedProvenance(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	foreignKey := []byte("foreign-signing-key")
	skill := sampleSkill("partner.example.com")
	sig, err := Sign(skill, foreignKey)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	skill.Signature = sig
	skill.Provenance = skillgen.ProvenanceSelf

	data, _ := json.Marshal(skill)

	imported, err := Import(dir, data, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.Provenance != skillgen.ProvenanceImported {
		t.Fatalf("Provenance = %q, want imported", imported.Provenance)
	}
	if imported.Signature != "" {
		t.Fatalf("Signature = %q, want stripped", imported.Signature)
	}
}

func TestImport_RejectsUnsafeURL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	skill := sampleSkill("evil.example.com")
	skill.BaseURL = "http://169.254.169.254/"
	data, _ := json.Marshal(skill)

	if _, err := Import(dir, data, nil); err == nil {
		t.Fatal("expected unsafe url to be rejected on import")
	}
}

func TestListDomains(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	Store(dir, sampleSkill("a.com"), nil)
	Store(dir, sampleSkill("b.com"), nil)

	domains, err := ListDomains(dir)
	if err != nil {
		t.Fatalf("ListDomains: %v", err)
	}
	if len(domains) != 2 {
		t.Fatalf("ListDomains = %v, want 2 entries", domains)
	}
}
