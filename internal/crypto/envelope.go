// Package crypto implements the envelope encryption scheme that protects
// provider credentials at rest (spec §4.7). A per-process root key (KEK)
// wraps a fresh per-seal data key (DEK); the plaintext never touches disk
// under a key derived from anything the client controls.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	envelopeVersion = 1
	cipherName      = "AES-256-GCM"
	dekWrapName     = "KEK-AES-GCM"
	keySize         = 32
	nonceSize       = 12
)

// Envelope is the self-describing JSON record wrapping AES-GCM ciphertext
// plus a KEK-wrapped DEK. Field names and ordering match the scheme this was
// distilled from so existing rows stay readable across implementations.
type Envelope struct {
	V          int    `json:"v"`
	Cipher     string `json:"cipher"`
	DEKWrap    string `json:"dek_wrap"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	WrapNonce  string `json:"wrap_nonce"`
	WrappedDEK string `json:"wrapped_dek"`
}

var ErrBadKEK = errors.New("crypto: root key must be 32 bytes")

// Seal serializes keys as a JSON array of strings, encrypts it under a fresh
// DEK, and wraps that DEK under kek. kek must be exactly 32 bytes.
func Seal(keys []string, kek []byte) (*Envelope, error) {
	if len(kek) != keySize {
		return nil, ErrBadKEK
	}

	plaintext, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal keys: %w", err)
	}

	dek := make([]byte, keySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("crypto: generate dek: %w", err)
	}

	dataNonce := make([]byte, nonceSize)
	if _, err := rand.Read(dataNonce); err != nil {
		return nil, fmt.Errorf("crypto: generate data nonce: %w", err)
	}

	ciphertext, err := gcmSeal(dek, dataNonce, plaintext)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal payload: %w", err)
	}

	wrapNonce := make([]byte, nonceSize)
	if _, err := rand.Read(wrapNonce); err != nil {
		return nil, fmt.Errorf("crypto: generate wrap nonce: %w", err)
	}

	wrappedDEK, err := gcmSeal(kek, wrapNonce, dek)
	if err != nil {
		return nil, fmt.Errorf("crypto: wrap dek: %w", err)
	}

	return &Envelope{
		V:          envelopeVersion,
		Cipher:     cipherName,
		DEKWrap:    dekWrapName,
		Nonce:      base64.StdEncoding.EncodeToString(dataNonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		WrapNonce:  base64.StdEncoding.EncodeToString(wrapNonce),
		WrappedDEK: base64.StdEncoding.EncodeToString(wrappedDEK),
	}, nil
}

// Open reverses Seal: unwrap the DEK under kek, then decrypt the payload.
// Rejects any envelope whose version is not 1.
func Open(env *Envelope, kek []byte) ([]string, error) {
	if len(kek) != keySize {
		return nil, ErrBadKEK
	}

	if env.V != envelopeVersion {
		return nil, fmt.Errorf("crypto: unsupported envelope version %d", env.V)
	}

	wrapNonce, err := base64.StdEncoding.DecodeString(env.WrapNonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode wrap_nonce: %w", err)
	}

	wrappedDEK, err := base64.StdEncoding.DecodeString(env.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode wrapped_dek: %w", err)
	}

	dek, err := gcmOpen(kek, wrapNonce, wrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap dek: %w", err)
	}

	dataNonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	plaintext, err := gcmOpen(dek, dataNonce, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: open payload: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return nil, fmt.Errorf("crypto: unmarshal keys: %w", err)
	}

	return keys, nil
}

// EncryptKeys is the storage-facing entry point used by the provider
// executor: it always produces a fresh envelope, JSON-encoded as the blob
// that goes into the credentials column.
func EncryptKeys(keys []string, kek []byte) (string, error) {
	env, err := Seal(keys, kek)
	if err != nil {
		return "", err
	}

	blob, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal envelope: %w", err)
	}

	return string(blob), nil
}

// DecryptKeys is the storage-facing read path. A stored value that parses as
// a JSON array rather than an envelope is legacy plaintext and is returned
// as-is. An unparseable value yields the empty list rather than an error, so
// one corrupt row never stalls a pull.
func DecryptKeys(blob string, kek []byte) []string {
	if blob == "" {
		return nil
	}

	var legacy []string
	if err := json.Unmarshal([]byte(blob), &legacy); err == nil {
		return legacy
	}

	var env Envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return nil
	}

	keys, err := Open(&env, kek)
	if err != nil {
		return nil
	}

	return keys
}

func gcmSeal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func gcmOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, nonce, ciphertext, nil)
}
