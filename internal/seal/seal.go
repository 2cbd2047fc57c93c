// Package seal is the encryption capability applied to files whose verdict
// is Encrypt: XChaCha20-Poly1305 under a locally held symmetric key.
package seal

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// magic prefixes every sealed blob so Open can reject foreign input early.
var magic = []byte("BSX1")

// CryptoError reports a key or cipher failure.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return "seal: " + e.Op + ": " + e.Err.Error() }
func (e *CryptoError) Unwrap() error { return e.Err }

// ErrMalformed is returned by Open for input that was not produced by Seal.
var ErrMalformed = errors.New("malformed sealed data")

// Sealer encrypts and decrypts with one key.
type Sealer struct {
	key []byte
}

// New returns a Sealer for a 32-byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, &CryptoError{Op: "key", Err: fmt.Errorf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))}
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// LoadOrCreateKey reads the key at path, creating it with mode 0600 on first
// use.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, &CryptoError{Op: "load key", Err: fmt.Errorf("%s: expected %d bytes, got %d", path, chacha20poly1305.KeySize, len(key))}
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, &CryptoError{Op: "load key", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, &CryptoError{Op: "create key", Err: err}
	}
	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, &CryptoError{Op: "create key", Err: err}
	}
	// The key is written to a temp file and linked into place, so readers
	// never see a partial key and a concurrent creator's key wins.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return nil, &CryptoError{Op: "create key", Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return nil, &CryptoError{Op: "create key", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &CryptoError{Op: "create key", Err: err}
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return LoadOrCreateKey(path)
		}
		return nil, &CryptoError{Op: "create key", Err: err}
	}
	return key, nil
}

// FromKeyFile is LoadOrCreateKey followed by New.
func FromKeyFile(path string) (*Sealer, error) {
	key, err := LoadOrCreateKey(path)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// Seal encrypts plaintext. ad is authenticated but not encrypted; callers pass
// the file's relative path so a blob cannot be swapped with another file's.
func (s *Sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, &CryptoError{Op: "seal", Err: err}
	}
	out := make([]byte, len(magic)+aead.NonceSize(), len(magic)+aead.NonceSize()+len(plaintext)+aead.Overhead())
	copy(out, magic)
	nonce := out[len(magic):]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &CryptoError{Op: "seal", Err: err}
	}
	return aead.Seal(out, nonce, plaintext, ad), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, &CryptoError{Op: "open", Err: err}
	}
	hdr := len(magic) + aead.NonceSize()
	if len(sealed) < hdr+aead.Overhead() || !bytes.Equal(sealed[:len(magic)], magic) {
		return nil, &CryptoError{Op: "open", Err: ErrMalformed}
	}
	pt, err := aead.Open(nil, sealed[len(magic):hdr], sealed[hdr:], ad)
	if err != nil {
		return nil, &CryptoError{Op: "open", Err: err}
	}
	return pt, nil
}

// Sealed reports whether data carries the sealed-blob prefix.
func Sealed(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}
