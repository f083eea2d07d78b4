// Package crypto seals credential fields stored at rest.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "srtgo credentials v1"

type AEAD struct{ aead cipher.AEAD }

// New derives the sealing key from master, which may be any length of at least 16 bytes.
func New(master []byte) (*AEAD, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("crypto: master key must be at least 16 bytes, got %d", len(master))
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

// EncryptToString seals plaintext. The field name is bound as additional data so a ciphertext
// copied into another column fails to open.
func (a *AEAD) EncryptToString(field, plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := a.aead.Seal(nonce, nonce, []byte(plaintext), []byte(field))
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func (a *AEAD) DecryptString(field, ciphertextB64 string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("crypto: %s: %w", field, err)
	}
	ns := a.aead.NonceSize()
	if len(buf) < ns+a.aead.Overhead() {
		return "", fmt.Errorf("crypto: %s: ciphertext too short", field)
	}
	pt, err := a.aead.Open(nil, buf[:ns], buf[ns:], []byte(field))
	if err != nil {
		return "", fmt.Errorf("crypto: %s: %w", field, err)
	}
	return string(pt), nil
}
