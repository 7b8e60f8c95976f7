// Package crypto cifra campos sensíveis (CPF) com AES-256-GCM antes de irem para o banco.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marca valores cifrados: "enc:<versão>:<base64(nonce||ciphertext)>".
const sealedPrefix = "enc:"

var ErrKeyNotFound = errors.New("key version not found")

func Encrypt(plaintext []byte, keyVersion string, keysMap map[string][]byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(keyVersion, keysMap)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func Decrypt(ciphertext, nonce []byte, keyVersion string, keysMap map[string][]byte) ([]byte, error) {
	gcm, err := newGCM(keyVersion, keysMap)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(keyVersion string, keysMap map[string][]byte) (cipher.AEAD, error) {
	key, ok := keysMap[keyVersion]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if len(key) != 32 {
		return nil, errors.New("key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// FieldCipher cifra com a versão atual e decifra qualquer versão conhecida, o que permite rotacionar chaves.
type FieldCipher struct {
	current string
	keys    map[string][]byte
}

// NewFieldCipher: current precisa existir em keys.
func NewFieldCipher(current string, keys map[string][]byte) (*FieldCipher, error) {
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, current)
	}
	return &FieldCipher{current: current, keys: keys}, nil
}

// Seal devolve o valor cifrado. String vazia fica vazia.
func (f *FieldCipher) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	ct, nonce, err := Encrypt([]byte(plain), f.current, f.keys)
	if err != nil {
		return "", err
	}
	return sealedPrefix + f.current + ":" + base64.RawStdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Open decifra valores gerados por Seal. Valores sem o prefixo (gravados antes da cifra) voltam como estão.
func (f *FieldCipher) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	rest := strings.TrimPrefix(stored, sealedPrefix)
	idx := strings.Index(rest, ":")
	if idx <= 0 {
		return "", errors.New("sealed value: formato inválido")
	}
	ver := rest[:idx]
	raw, err := base64.RawStdEncoding.DecodeString(rest[idx+1:])
	if err != nil {
		return "", fmt.Errorf("sealed value: %w", err)
	}
	gcm, err := newGCM(ver, f.keys)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("sealed value: curto demais")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func IsSealed(s string) bool { return strings.HasPrefix(s, sealedPrefix) }

// ParseKeysEnv lê "v1:<base64>,v2:<base64>" com chaves de 32 bytes.
func ParseKeysEnv(env string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if env == "" {
		return out, nil
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, ":")
		if idx <= 0 {
			continue
		}
		ver := strings.TrimSpace(part[:idx])
		b64 := strings.TrimRight(strings.TrimSpace(part[idx+1:]), "=")
		key, err := base64.RawStdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", ver, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key must be 32 bytes for AES-256 (got %d)", len(key))
		}
		out[ver] = key
	}
	return out, nil
}
