package skillstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apitap/apitap/pkg/skillgen"
)

// ChainEntry is one signed link in an AuditChain. Each entry records the
// previous entry's hash, so altering an entry breaks its own signature and
// reordering entries breaks the next entry's link.
type ChainEntry struct {
	Sequence   int64     `json:"sequence"`
	Domain     string    `json:"domain"`
	SkillHash  string    `json:"skillHash"`
	PrevHash   string    `json:"prevHash"`
	Signature  string    `json:"signature"`
	ObservedAt time.Time `json:"observedAt"`
}

// AuditChain records a hash-linked, HMAC-signed history of skill-file
// writes made during one capture session. It does not change what gets
// written to disk — it is additional evidence that no endpoint was
// silently dropped or reordered before the skill file was signed. Safe
// for concurrent use.
type AuditChain struct {
	mu      sync.Mutex
	secret  []byte
	entries []ChainEntry
	last    string
	seq     int64
}

// NewAuditChain creates an empty chain keyed by secret, typically the same
// signing key passed to Store.
func NewAuditChain(secret []byte) *AuditChain {
	return &AuditChain{secret: secret}
}

// Append hashes the canonical form of skill and links it to the chain,
// returning the new entry.
func (ac *AuditChain) Append(skill skillgen.SkillFile) (ChainEntry, error) {
	canonical, err := Canonicalize(skill)
	if err != nil {
		return ChainEntry{}, err
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()

	ac.seq++
	entry := ChainEntry{
		Sequence:   ac.seq,
		Domain:     skill.Domain,
		SkillHash:  sha256Hex(canonical),
		PrevHash:   ac.last,
		ObservedAt: time.Now().UTC(),
	}
	entry.Signature = ac.sign(entry)

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return ChainEntry{}, fmt.Errorf("skillstore: marshal chain entry: %w", err)
	}
	ac.last = sha256Hex(entryJSON)
	ac.entries = append(ac.entries, entry)
	return entry, nil
}

// Verify walks the chain checking that every prev_hash link and signature
// still matches. It returns the sequence number of the first broken entry,
// or 0 if the chain is intact.
func (ac *AuditChain) Verify() (brokenAt int64, err error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	prevHash := ""
	for i, entry := range ac.entries {
		if entry.PrevHash != prevHash {
			return entry.Sequence, fmt.Errorf("skillstore: chain broken at sequence %d: prev hash mismatch", entry.Sequence)
		}
		if entry.Signature != ac.sign(entry) {
			return entry.Sequence, fmt.Errorf("skillstore: chain broken at sequence %d: signature mismatch", entry.Sequence)
		}
		entryJSON, err := json.Marshal(ac.entries[i])
		if err != nil {
			return entry.Sequence, err
		}
		prevHash = sha256Hex(entryJSON)
	}
	return 0, nil
}

// Entries returns a copy of every recorded entry, in append order.
func (ac *AuditChain) Entries() []ChainEntry {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	out := make([]ChainEntry, len(ac.entries))
	copy(out, ac.entries)
	return out
}

func (ac *AuditChain) sign(e ChainEntry) string {
	msg := fmt.Sprintf("%d|%s|%s|%s", e.Sequence, e.Domain, e.SkillHash, e.PrevHash)
	mac := hmac.New(sha256.New, ac.secret)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
