package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "VOXENC1\n"

	defaultArgonTime    = uint32(2)
	defaultArgonMemKB   = uint32(64 * 1024)
	defaultArgonThreads = uint8(1)
)

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore envelope is invalid")
	ErrLegacyData = errors.New("securestore legacy plaintext data")
)

// Envelope wraps a secret at rest: Argon2id key derivation over the
// passphrase, XChaCha20-Poly1305 for the payload. This is the shape the
// Principal secret is stored under for social recovery.
type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	env, err := EncryptEnvelope(passphrase, plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

func EncryptEnvelope(passphrase string, plaintext []byte) (*Envelope, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, defaultArgonTime, defaultArgonMemKB, defaultArgonThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		Version:     envelopeVersion,
		KDF:         "argon2id",
		KDFTime:     defaultArgonTime,
		KDFMemoryKB: defaultArgonMemKB,
		KDFThreads:  defaultArgonThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}, nil
}

func Decrypt(passphrase string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), filePrefix) {
		return nil, ErrLegacyData
	}
	data = data[len(filePrefix):]
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalid
	}
	return DecryptEnvelope(passphrase, &env)
}

func DecryptEnvelope(passphrase string, env *Envelope) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != "argon2id" {
		return nil, ErrInvalid
	}
	key := deriveKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte, kdfTime, memKB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, memKB, threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
