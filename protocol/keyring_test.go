package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t testing.TB, s Suite) string {
	t.Helper()
	key, err := GenerateKey(s)
	require.NoError(t, err)
	return key
}

func TestKeyring_Rotation(t *testing.T) {
	oldKey, newKey := mustKey(t, SuiteFernet), mustKey(t, SuiteFernet)

	sender, err := NewKeyring(SuiteFernet, 2, []string{oldKey})
	require.NoError(t, err)
	receiver, err := NewKeyring(SuiteFernet, 2, []string{oldKey})
	require.NoError(t, err)

	// receiver learns the new key first, sender still uses the old one
	require.NoError(t, receiver.Rotate(newKey))
	assert.Equal(t, 2, receiver.Len())

	ct, err := sender.Encrypt([]byte("before"))
	require.NoError(t, err)
	pt, err := receiver.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "before", string(pt))

	// sender promotes the new key
	require.NoError(t, sender.Rotate(newKey))
	ct, err = sender.Encrypt([]byte("after"))
	require.NoError(t, err)
	pt, err = receiver.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "after", string(pt))

	onlyOld, err := NewKeyring(SuiteFernet, 1, []string{oldKey})
	require.NoError(t, err)
	_, err = onlyOld.Decrypt(ct)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestKeyring_OverlapBoundsRetainedKeys(t *testing.T) {
	first := mustKey(t, SuiteSecretbox)
	kr, err := NewKeyring(SuiteSecretbox, 2, []string{first})
	require.NoError(t, err)

	ct, err := kr.Encrypt([]byte("oldest"))
	require.NoError(t, err)

	require.NoError(t, kr.Rotate(mustKey(t, SuiteSecretbox)))
	assert.Equal(t, 2, kr.Len())
	_, err = kr.Decrypt(ct)
	require.NoError(t, err, "first key still retained")

	require.NoError(t, kr.Rotate(mustKey(t, SuiteSecretbox)))
	assert.Equal(t, 2, kr.Len())
	_, err = kr.Decrypt(ct)
	assert.ErrorIs(t, err, ErrAuthentication, "first key evicted")
}

func TestKeyring_ZeroOverlapKeepsAllGiven(t *testing.T) {
	keys := []string{mustKey(t, SuiteFernet), mustKey(t, SuiteFernet), mustKey(t, SuiteFernet)}
	kr, err := NewKeyring(SuiteFernet, 0, keys)
	require.NoError(t, err)
	assert.Equal(t, 3, kr.Len())

	older, err := NewKeyring(SuiteFernet, 0, keys[2:])
	require.NoError(t, err)
	ct, err := older.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = kr.Decrypt(ct)
	assert.NoError(t, err)
}

func TestKeyring_DefaultSuite(t *testing.T) {
	kr, err := NewKeyring("", 0, []string{mustKey(t, SuiteFernet)})
	require.NoError(t, err)
	assert.Equal(t, SuiteFernet, kr.Suite())
}

func TestKeyring_RotateRejectsBadKey(t *testing.T) {
	kr := newTestKeyring(t, SuiteFernet)
	assert.ErrorIs(t, kr.Rotate("!!!"), ErrInvalidKey)
	assert.Equal(t, 1, kr.Len())
}

func TestKeyring_NegativeOverlap(t *testing.T) {
	_, err := NewKeyring(SuiteFernet, -1, []string{mustKey(t, SuiteFernet)})
	assert.Error(t, err)
}

func TestKeyring_ConcurrentRotate(t *testing.T) {
	kr, err := NewKeyring(SuiteSecretbox, 3, []string{mustKey(t, SuiteSecretbox)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ct, err := kr.Encrypt([]byte("payload"))
			assert.NoError(t, err)
			_ = ct
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, kr.Rotate(mustKey(t, SuiteSecretbox)))
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, kr.Len())
}
