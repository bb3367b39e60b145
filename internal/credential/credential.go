// internal/credential/credential.go
package credential

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrEmpty     = errors.New("credential: empty")
	ErrNoSecret  = errors.New("credential: encrypted value but no secret available")
	ErrBadCipher = errors.New("credential: cannot decrypt")
)

// Credential to klucz API tak jak leży w configu: jawnie albo zaszyfrowany
// (AES-256-CBC, base64 – ten sam format co openssl_encrypt z opcjami 0).
type Credential struct {
	Value     string `json:"value" mapstructure:"value"`
	Encrypted bool   `json:"encrypted" mapstructure:"encrypted"`
}

func (c Credential) IsZero() bool { return strings.TrimSpace(c.Value) == "" }

// Seal przygotowuje credential do zapisu. Bez sekretu zostaje jawny.
func Seal(plain, secret string) (Credential, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return Credential{}, ErrEmpty
	}
	if secret == "" {
		return Credential{Value: plain}, nil
	}
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return Credential{}, err
	}
	data := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, deriveIV(secret)).CryptBlocks(out, data)
	return Credential{Value: base64.StdEncoding.EncodeToString(out), Encrypted: true}, nil
}

// Reveal zwraca jawny klucz. Wołać dopiero w miejscu użycia i nigdzie go nie logować.
func (c Credential) Reveal(secret string) (string, error) {
	if c.IsZero() {
		return "", ErrEmpty
	}
	if !c.Encrypted {
		return c.Value, nil
	}
	if secret == "" {
		return "", ErrNoSecret
	}
	raw, err := base64.StdEncoding.DecodeString(c.Value)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrBadCipher
	}
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, deriveIV(secret)).CryptBlocks(out, raw)
	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok || len(plain) == 0 {
		return "", ErrBadCipher
	}
	return string(plain), nil
}

// Mask – do wyświetlania: gwiazdki + ostatnie 4 znaki
func Mask(plain string) string {
	if len(plain) <= 4 {
		return plain
	}
	return strings.Repeat("*", len(plain)-4) + plain[len(plain)-4:]
}

// IsMaskOf – formularz odesłał zamaskowaną wartość, czyli "nie zmieniaj klucza"
func IsMaskOf(submitted, stored string) bool {
	return stored != "" && submitted == Mask(stored)
}

// klucz jak w openssl: sekret dopełniony zerami / obcięty do 32 bajtów
func deriveKey(secret string) []byte {
	key := make([]byte, 32)
	copy(key, secret)
	return key
}

// IV = pierwsze 16 znaków hex(sha256(secret))
func deriveIV(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:])[:aes.BlockSize])
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

// Source łączy credential z sekretem z env; upstream woła Reveal przy każdym żądaniu
type Source struct {
	Cred      Credential
	SecretEnv string
}

func (s Source) Reveal() (string, error) {
	key, err := s.Cred.Reveal(s.secret())
	if err != nil {
		return "", fmt.Errorf("api key: %w", err)
	}
	return key, nil
}

// Masked – wersja do logów / UI, bez ujawniania klucza gdy nie da się odszyfrować
func (s Source) Masked() string {
	key, err := s.Cred.Reveal(s.secret())
	if err != nil {
		return ""
	}
	return Mask(key)
}

func (s Source) secret() string {
	if s.SecretEnv == "" {
		return ""
	}
	return os.Getenv(s.SecretEnv)
}
