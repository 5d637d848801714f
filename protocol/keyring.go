package protocol

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Keyring is a Cipher over an ordered set of pre-shared keys.
//
// The first key encrypts outgoing packets, while every retained key is tried for
// decryption. This lets peers rotate the shared secret without a flag day: roll out
// the new key as secondary, then promote it.
//
// Thread-safety: keys are read through an atomic pointer, so Encrypt and Decrypt
// may run concurrently with Rotate.
type Keyring struct {
	suite   Suite
	impl    suite
	keys    atomic.Pointer[[][]byte]
	overlap int
	logger  zerolog.Logger
}

var _ Cipher = (*Keyring)(nil)

// NewKeyring parses keys (newest first) for the named suite.
// overlap bounds how many keys are retained after Rotate; zero keeps all given keys.
//
// Example:
//
//	kr, err := protocol.NewKeyring(protocol.SuiteFernet, 2, []string{os.Getenv("QTALK_KEY")})
//	if err != nil {
//	    return err
//	}
//	conn := protocol.NewConn(stream, kr, protocol.DefaultPolicy(), logger)
func NewKeyring(name Suite, overlap int, encodedKeys []string, opts ...SuiteOption) (*Keyring, error) {
	if len(encodedKeys) == 0 {
		return nil, fmt.Errorf("%w: at least one key is required", ErrInvalidKey)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must not be negative, got %d", overlap)
	}
	if overlap == 0 {
		overlap = len(encodedKeys)
	}

	impl, err := newSuite(name, opts...)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = SuiteFernet
	}

	keys := make([][]byte, 0, len(encodedKeys))
	for i, encoded := range encodedKeys {
		key, err := impl.parseKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	if len(keys) > overlap {
		keys = keys[:overlap]
	}

	k := &Keyring{
		suite:   name,
		impl:    impl,
		overlap: overlap,
		logger:  log.With().Str("com", "keyring").Logger(),
	}
	k.keys.Store(&keys)

	k.logger.Debug().
		Str("suite", string(name)).
		Int("keys", len(keys)).
		Int("overlap", overlap).
		Msg("initialized packet keys")

	return k, nil
}

// Suite returns the scheme this keyring encrypts with.
func (k *Keyring) Suite() Suite {
	return k.suite
}

// Len returns the number of retained keys.
func (k *Keyring) Len() int {
	return len(*k.keys.Load())
}

// Encrypt seals plaintext with the newest key.
func (k *Keyring) Encrypt(plaintext []byte) ([]byte, error) {
	keys := *k.keys.Load()
	return k.impl.seal(keys[0], plaintext)
}

// Decrypt opens ciphertext with the first retained key that authenticates it.
// It returns ErrAuthentication when no key does.
func (k *Keyring) Decrypt(ciphertext []byte) ([]byte, error) {
	var lastErr error
	for _, key := range *k.keys.Load() {
		plaintext, err := k.impl.open(key, ciphertext)
		if err == nil {
			return plaintext, nil
		}
		if !errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Rotate makes encodedKey the encryption key and keeps at most overlap keys.
func (k *Keyring) Rotate(encodedKey string) error {
	key, err := k.impl.parseKey(encodedKey)
	if err != nil {
		return err
	}

	current := *k.keys.Load()
	newKeys := make([][]byte, min(len(current)+1, k.overlap))
	newKeys[0] = key
	copy(newKeys[1:], current)
	k.keys.Store(&newKeys)

	k.logger.Info().
		Int("total_keys", len(newKeys)).
		Int("overlap", k.overlap).
		Msg("rotated packet keys")

	return nil
}
