package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed ciphertext")

// Codec encrypts payloads with AES-128-CBC under the deployment key. Every
// ciphertext is prefixed with its own random IV.
type Codec struct {
	block cipher.Block
}

func New(key []byte) (*Codec, error) {
	if len(key) != aes.BlockSize {
		return nil, fmt.Errorf("codec key must be %d bytes, got %d", aes.BlockSize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Codec{block: block}, nil
}

// NewFromHex is New for a hex encoded key as found in config.
func NewFromHex(s string) (*Codec, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode codec key: %w", err)
	}
	return New(key)
}

func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	padded := pad(plaintext)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func (c *Codec) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformed
	}
	iv, body := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, body)
	return unpad(out)
}

// EncodeFrame encrypts plaintext and returns the base64 text carried in a
// websocket frame.
func (c *Codec) EncodeFrame(plaintext []byte) ([]byte, error) {
	ct, err := c.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(ct)))
	base64.StdEncoding.Encode(out, ct)
	return out, nil
}

func (c *Codec) DecodeFrame(frame []byte) ([]byte, error) {
	ct := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(ct, bytes.TrimSpace(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c.Decrypt(ct[:n])
}

// PKCS#7
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrMalformed
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrMalformed
		}
	}
	return b[:len(b)-n], nil
}
