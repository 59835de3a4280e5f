package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"

	"github.com/pkg/errors"
)

type Decrypter interface {
	Decrypt(value string) (string, error)
}

// AesDecrypter reads base64(nonce || ciphertext) produced with AES-GCM.
type AesDecrypter struct {
	aead cipher.AEAD
}

func NewAesDecrypter(base64Key string) (*AesDecrypter, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid encryption key encoding")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid encryption key")
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init gcm")
	}

	return &AesDecrypter{aead: aead}, nil
}

func (d *AesDecrypter) Decrypt(value string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode encrypted value")
	}

	nonceSize := d.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("encrypted value too short")
	}

	plain, err := d.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt value")
	}
	return string(plain), nil
}

// Encrypt is the inverse of Decrypt. Used by tooling and tests.
func (d *AesDecrypter) Encrypt(nonce []byte, value string) string {
	sealed := d.aead.Seal(nil, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(append(append([]byte{}, nonce...), sealed...))
}

// PlainDecrypter is used when no encryption key is configured.
type PlainDecrypter struct{}

func (PlainDecrypter) Decrypt(value string) (string, error) {
	return value, nil
}
