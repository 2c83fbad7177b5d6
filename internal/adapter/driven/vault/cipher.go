package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// blobVersion prefixes every sealed token and is authenticated as AAD.
const blobVersion byte = 0x01

var errBlobTooShort = errors.New("sealed token too short")

// seal encrypts plaintext with XChaCha20-Poly1305 and returns
// base64(version || nonce || ciphertext+tag).
func seal(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, blobVersion)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), []byte{blobVersion})
	return base64.StdEncoding.EncodeToString(out), nil
}

// open reverses seal.
func open(key []byte, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", errBlobTooShort
	}
	if data[0] != blobVersion {
		return "", fmt.Errorf("unsupported blob version %d", data[0])
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}

	nonce := data[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, data[1+chacha20poly1305.NonceSizeX:], data[:1])
	if err != nil {
		return "", fmt.Errorf("open sealed token: %w", err)
	}
	return string(plaintext), nil
}
