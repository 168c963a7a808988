package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize          = 32
	minPassphraseLen = 16
	versionPrefix    = "v1:"
	hkdfInfo         = "confvault/variable-encryption/v1"
)

var (
	// ErrDecryption is returned for any ciphertext that cannot be opened:
	// malformed encoding, wrong key, or tampering.
	ErrDecryption = errors.New("decryption failed")
	// ErrInvalidKey is returned when master key material is unusable.
	ErrInvalidKey = errors.New("invalid master key")
)

var encoding = base64.RawURLEncoding.Strict()

// Cipher seals variable values with AES-256-GCM under a single master key.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from master key material. A standard base64
// encoding of exactly 32 bytes is used as the raw key; any other value is
// treated as a passphrase and expanded with HKDF-SHA256.
func NewCipher(masterKey string) (*Cipher, error) {
	key, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func deriveKey(material string) ([]byte, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("%w: master key required", ErrInvalidKey)
	}
	if raw, err := base64.StdEncoding.DecodeString(material); err == nil && len(raw) == keySize {
		return raw, nil
	}
	if len(material) < minPassphraseLen {
		return nil, fmt.Errorf("%w: passphrase must be at least %d characters", ErrInvalidKey, minPassphraseLen)
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(material), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %w", ErrInvalidKey, err)
	}
	return key, nil
}

// Encrypt seals plaintext with a fresh random nonce. Encrypting the same
// plaintext twice yields different ciphertexts.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionPrefix + encoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	body, ok := strings.CutPrefix(ciphertext, versionPrefix)
	if !ok {
		return "", ErrDecryption
	}
	payload, err := encoding.DecodeString(body)
	if err != nil {
		return "", ErrDecryption
	}
	nonceSize := c.aead.NonceSize()
	if len(payload) < nonceSize+c.aead.Overhead() {
		return "", ErrDecryption
	}
	plain, err := c.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// GenerateKey returns a new random master key in the encoding NewCipher accepts.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
