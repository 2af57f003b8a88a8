package game

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// PackedAnswer is the stored form of a round's answer. The engine treats it
// as opaque and only works on the unpacked plaintext.
//
// Encodings:
//
//	WORD                  legacy rows, bare plaintext
//	plain:WORD            plaintext, tagged
//	sealed:v1:<base64>    XChaCha20-Poly1305, nonce prefixed
type PackedAnswer string

const (
	packedPlainPrefix    = "plain:"
	packedSealedV1Prefix = "sealed:v1:"
)

var ErrUnknownAnswerEncoding = errors.New("unknown packed answer encoding")

// Sealer encrypts answers at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// AnswerCodec packs and unpacks answers. With a nil sealer new answers are
// stored with the plain tag.
type AnswerCodec struct {
	sealer Sealer
}

func NewAnswerCodec(sealer Sealer) AnswerCodec {
	return AnswerCodec{sealer: sealer}
}

func (c AnswerCodec) Pack(word string) (PackedAnswer, error) {
	if c.sealer == nil {
		return PackedAnswer(packedPlainPrefix + word), nil
	}
	ct, err := c.sealer.Seal([]byte(word))
	if err != nil {
		return "", fmt.Errorf("seal answer: %w", err)
	}
	return PackedAnswer(packedSealedV1Prefix + base64.StdEncoding.EncodeToString(ct)), nil
}

func (c AnswerCodec) Unpack(p PackedAnswer) (string, error) {
	s := string(p)
	switch {
	case strings.HasPrefix(s, packedSealedV1Prefix):
		if c.sealer == nil {
			return "", errors.New("sealed answer but no sealer configured")
		}
		ct, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, packedSealedV1Prefix))
		if err != nil {
			return "", fmt.Errorf("decode sealed answer: %w", err)
		}
		pt, err := c.sealer.Open(ct)
		if err != nil {
			return "", fmt.Errorf("open sealed answer: %w", err)
		}
		return string(pt), nil
	case strings.HasPrefix(s, packedPlainPrefix):
		return strings.TrimPrefix(s, packedPlainPrefix), nil
	case isLegacyPlain(s):
		return s, nil
	}
	return "", ErrUnknownAnswerEncoding
}

func isLegacyPlain(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// XChaChaSealer seals with XChaCha20-Poly1305 under a 32 byte key.
type XChaChaSealer struct {
	key []byte
}

func NewXChaChaSealer(keyHex string) (*XChaChaSealer, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode answer key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("answer key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &XChaChaSealer{key: key}, nil
}

func (s *XChaChaSealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *XChaChaSealer) Open(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}
