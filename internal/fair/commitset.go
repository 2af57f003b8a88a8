package fair

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Entry is one word's commitment inside a set. Each entry has its own salt
// so revealing one word proves nothing about any other.
type Entry struct {
	Index int    `json:"index"`
	Salt  Salt   `json:"-"`
	Hash  string `json:"hash"`
}

// CommitSet is a published list of per-word commitments and a root binding
// their order.
type CommitSet struct {
	Profile Profile `json:"profile"`
	Entries []Entry `json:"entries"`
	Root    string  `json:"root"`
}

// CommitSet commits to each word with a fresh salt.
func (c Committer) CommitSet(words []string) (CommitSet, error) {
	seen := make(map[string]struct{}, len(words))
	set := CommitSet{Profile: c.Profile(), Entries: make([]Entry, 0, len(words))}
	for i, w := range words {
		w = NormalizeWord(w)
		if _, dup := seen[w]; dup {
			return CommitSet{}, fmt.Errorf("%w: %s", ErrDuplicateWord, w)
		}
		seen[w] = struct{}{}

		salt, hash, err := c.CreateCommitment(w)
		if err != nil {
			return CommitSet{}, err
		}
		set.Entries = append(set.Entries, Entry{Index: i, Salt: salt, Hash: hash})
	}
	set.Root = SetRoot(set.Entries)
	return set, nil
}

// SetRoot hashes the ordered entry hashes. Salts are not part of the root.
func SetRoot(entries []Entry) string {
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(strings.ToLower(strip0x(e.Hash))))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyEntry checks a single revealed word against its published entry and
// the set root.
func (c Committer) VerifyEntry(set CommitSet, index int, word string, salt Salt) bool {
	if index < 0 || index >= len(set.Entries) {
		return false
	}
	if SetRoot(set.Entries) != set.Root {
		return false
	}
	return c.VerifyCommit(salt, word, set.Entries[index].Hash)
}
