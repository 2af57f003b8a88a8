package fair

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const SALT_BYTES = 32 // 256 bits of entropy

// Profile selects the hash construction used for commitments.
type Profile string

const (
	// ProfileSHA256 hashes sha256(saltHex || WORD). Off-chain proofs only.
	ProfileSHA256 Profile = "sha256"
	// ProfileKeccak hashes keccak256(abi.encodePacked(string WORD, bytes32 salt)),
	// which a Solidity verifier can recompute.
	ProfileKeccak Profile = "keccak"
)

var (
	ErrEntropyUnavailable = errors.New("fair: entropy source unavailable")
	ErrMalformedSalt      = errors.New("fair: malformed salt")
	ErrDuplicateWord      = errors.New("fair: duplicate word in commitment set")
	ErrUnknownProfile     = errors.New("fair: unknown commitment profile")
)

// Salt is a hex encoded 32 byte random value.
type Salt string

// Bytes decodes the salt, tolerating a 0x prefix.
func (s Salt) Bytes() ([]byte, error) {
	raw, err := hex.DecodeString(strip0x(string(s)))
	if err != nil || len(raw) != SALT_BYTES {
		return nil, ErrMalformedSalt
	}
	return raw, nil
}

// GenerateSalt reads SALT_BYTES from crypto/rand.
func GenerateSalt() (Salt, error) {
	b := make([]byte, SALT_BYTES)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return Salt(hex.EncodeToString(b)), nil
}

// MustGenerateSalt panics when the entropy source fails. A round can not be
// opened without a salt, so there is nothing to recover to.
func MustGenerateSalt() Salt {
	s, err := GenerateSalt()
	if err != nil {
		panic(err)
	}
	return s
}

// NormalizeWord trims and upper-cases a word before hashing.
func NormalizeWord(word string) string {
	return strings.ToUpper(strings.TrimSpace(word))
}

// Committer computes and verifies commitments under one profile.
type Committer struct {
	profile Profile
}

func NewCommitter(profile Profile) (Committer, error) {
	switch profile {
	case ProfileSHA256, ProfileKeccak:
		return Committer{profile: profile}, nil
	case "":
		return Committer{profile: ProfileSHA256}, nil
	}
	return Committer{}, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
}

func (c Committer) Profile() Profile {
	if c.profile == "" {
		return ProfileSHA256
	}
	return c.profile
}

// ComputeCommitHash is a deterministic one-way function of salt and the
// normalized word.
func (c Committer) ComputeCommitHash(salt Salt, word string) (string, error) {
	word = NormalizeWord(word)
	switch c.Profile() {
	case ProfileKeccak:
		raw, err := salt.Bytes()
		if err != nil {
			return "", err
		}
		h := sha3.NewLegacyKeccak256()
		h.Write([]byte(word))
		h.Write(raw)
		return "0x" + hex.EncodeToString(h.Sum(nil)), nil
	default:
		if _, err := salt.Bytes(); err != nil {
			return "", err
		}
		sum := sha256.Sum256([]byte(strings.ToLower(strip0x(string(salt))) + word))
		return hex.EncodeToString(sum[:]), nil
	}
}

// VerifyCommit recomputes the hash and compares case-insensitively.
func (c Committer) VerifyCommit(salt Salt, word, hash string) bool {
	got, err := c.ComputeCommitHash(salt, word)
	if err != nil {
		return false
	}
	a := strings.ToLower(strip0x(got))
	b := strings.ToLower(strip0x(strings.TrimSpace(hash)))
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CreateCommitment draws a fresh salt and commits to word.
func (c Committer) CreateCommitment(word string) (Salt, string, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", "", err
	}
	hash, err := c.ComputeCommitHash(salt, word)
	if err != nil {
		return "", "", err
	}
	return salt, hash, nil
}

var defaultCommitter = Committer{profile: ProfileSHA256}

func ComputeCommitHash(salt Salt, word string) (string, error) {
	return defaultCommitter.ComputeCommitHash(salt, word)
}

func VerifyCommit(salt Salt, word, hash string) bool {
	return defaultCommitter.VerifyCommit(salt, word, hash)
}

func CreateCommitment(word string) (Salt, string, error) {
	return defaultCommitter.CreateCommitment(word)
}

func strip0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
