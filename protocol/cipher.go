package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher encrypts and authenticates whole encoded packets.
// Decrypt fails closed: any wrong key, truncation or modification yields
// ErrAuthentication, never garbage plaintext.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Suite names an authenticated encryption scheme.
type Suite string

const (
	// SuiteFernet is the Fernet token format (AES-128-CBC + HMAC-SHA256 with a
	// timestamp), interoperable with peers using the Python cryptography package.
	SuiteFernet Suite = "fernet"

	// SuiteSecretbox is XSalsa20-Poly1305 with a random 24 byte nonce prefix and a
	// key derived from the configured secret with HKDF-SHA256.
	SuiteSecretbox Suite = "secretbox"
)

// suite implements a single scheme for one parsed key.
type suite interface {
	parseKey(encoded string) ([]byte, error)
	seal(key, plaintext []byte) ([]byte, error)
	open(key, ciphertext []byte) ([]byte, error)
}

// SuiteOption adjusts suite behaviour.
type SuiteOption func(*suiteOptions)

type suiteOptions struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL rejects Fernet tokens older than ttl. Zero disables the check.
func WithTTL(ttl time.Duration) SuiteOption {
	return func(o *suiteOptions) { o.ttl = ttl }
}

// WithClock overrides the time source used to check Fernet token age.
func WithClock(now func() time.Time) SuiteOption {
	return func(o *suiteOptions) { o.now = now }
}

func newSuite(name Suite, opts ...SuiteOption) (suite, error) {
	o := suiteOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	switch name {
	case SuiteFernet, "":
		return &fernetSuite{ttl: o.ttl, now: o.now}, nil
	case SuiteSecretbox:
		return secretboxSuite{}, nil
	default:
		return nil, fmt.Errorf("unsupported cipher suite: %q", name)
	}
}

// GenerateKey returns a fresh random key for the suite in its configuration encoding.
func GenerateKey(name Suite) (string, error) {
	if _, err := newSuite(name); err != nil {
		return "", err
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// --- secretbox ---

const (
	secretboxNonceSize = 24
	secretboxKeyInfo   = "qtalk secretbox v1"
	minSecretSize      = 16
)

type secretboxSuite struct{}

func (secretboxSuite) parseKey(encoded string) ([]byte, error) {
	secret, err := decodeKeyString(encoded)
	if err != nil {
		return nil, err
	}
	if len(secret) < minSecretSize {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes, got %d", ErrInvalidKey, minSecretSize, len(secret))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(secretboxKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func (secretboxSuite) seal(key, plaintext []byte) ([]byte, error) {
	var nonce [secretboxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	var k [32]byte
	copy(k[:], key)

	out := make([]byte, secretboxNonceSize, secretboxNonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &k), nil
}

func (secretboxSuite) open(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < secretboxNonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrAuthentication)
	}
	var nonce [secretboxNonceSize]byte
	copy(nonce[:], ciphertext[:secretboxNonceSize])
	var k [32]byte
	copy(k[:], key)

	plaintext, ok := secretbox.Open(nil, ciphertext[secretboxNonceSize:], &nonce, &k)
	if !ok {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func decodeKeyString(encoded string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidKey)
}
