package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every key used for flag storage (AES-256).
const KeySize = 32

// ErrCiphertextTooShort is returned by Open when the blob cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// GenerateKey generates a 32-byte cryptographically secure random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a storage key from a root secret using HKDF-SHA256.
// Different contexts yield independent keys from the same root.
func DeriveKey(root []byte, context string) ([]byte, error) {
	if len(root) == 0 {
		return nil, errors.New("deriving key: empty root secret")
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, root, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM. Returns ciphertext and nonce separately.
// additional is authenticated but not encrypted; it may be nil.
func EncryptAESGCM(plaintext, key, additional []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, additional)
	return ciphertext, nonce, nil
}

// DecryptAESGCM decrypts AES-256-GCM ciphertext.
func DecryptAESGCM(ciphertext, nonce, key, additional []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts plaintext and prepends the nonce, producing a single blob for storage.
func Seal(plaintext, key, additional []byte) ([]byte, error) {
	ciphertext, nonce, err := EncryptAESGCM(plaintext, key, additional)
	if err != nil {
		return nil, fmt.Errorf("sealing: %w", err)
	}
	result := make([]byte, len(nonce)+len(ciphertext))
	copy(result, nonce)
	copy(result[len(nonce):], ciphertext)
	return result, nil
}

// Open reverses Seal.
func Open(blob, key, additional []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := gcm.Open(nil, blob[:nonceSize], blob[nonceSize:], additional)
	if err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
