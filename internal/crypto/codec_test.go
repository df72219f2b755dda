package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")[:32]
}

func TestFieldCodec_RoundTrip(t *testing.T) {
	codec, err := NewFieldCodec(testKey())
	require.NoError(t, err)

	for _, plain := range []string{"", "hello", "SELECT * FROM t WHERE ts > :fromTime", "s3cr3t-password!@#"} {
		cipherText, err := codec.EncryptString(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, cipherText)

		decrypted, err := codec.DecryptString(cipherText)
		require.NoError(t, err)
		assert.Equal(t, plain, decrypted)
	}
}

func TestFieldCodec_NilRoundTrip(t *testing.T) {
	codec, err := NewFieldCodec(testKey())
	require.NoError(t, err)

	encrypted, err := codec.Encrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, encrypted)

	decrypted, err := codec.Decrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, decrypted)
}

func TestFieldCodec_DecryptFailureIsFatal(t *testing.T) {
	codec, err := NewFieldCodec(testKey())
	require.NoError(t, err)

	garbage := "bm90LWEtdmFsaWQtY2lwaGVydGV4dA=="
	_, err = codec.DecryptString(garbage)
	require.Error(t, err)

	code, ok := domain.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, "ENCRYPTION_ERROR", string(code))
}

func TestFieldCodec_DistinctCiphertextsPerCall(t *testing.T) {
	codec, err := NewFieldCodec(testKey())
	require.NoError(t, err)

	a, err := codec.EncryptString("same-plaintext")
	require.NoError(t, err)
	b, err := codec.EncryptString("same-plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random IV must make repeated encryptions of the same plaintext differ")
}

func TestNewFieldCodec_RejectsWrongKeySize(t *testing.T) {
	_, err := NewFieldCodec([]byte("too-short"))
	require.Error(t, err)
}
