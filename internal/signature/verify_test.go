package signature

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (common.Address, func(common.Hash) []byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey), func(d common.Hash) []byte {
		sig, err := Sign(d, key)
		require.NoError(t, err)
		return sig
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	addr, sign := newKey(t)
	digest := crypto.Keccak256Hash([]byte("order"))

	sig := sign(digest)
	assert.Contains(t, []byte{27, 28}, sig[64])
	assert.NoError(t, NewVerifier().Verify(digest, sig, addr))
}

func TestVerify_AcceptsRawRecoveryID(t *testing.T) {
	addr, sign := newKey(t)
	digest := crypto.Keccak256Hash([]byte("order"))

	sig := sign(digest)
	sig[64] -= 27
	assert.NoError(t, NewVerifier().Verify(digest, sig, addr))
}

func TestVerify_Rejects(t *testing.T) {
	addr, sign := newKey(t)
	other, _ := newKey(t)
	digest := crypto.Keccak256Hash([]byte("order"))
	good := sign(digest)

	t.Run("wrong signer", func(t *testing.T) {
		err := NewVerifier().Verify(digest, good, other)
		assert.ErrorIs(t, err, ErrSignerMismatch)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("different digest", func(t *testing.T) {
		err := NewVerifier().Verify(crypto.Keccak256Hash([]byte("other")), good, addr)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("short signature", func(t *testing.T) {
		err := NewVerifier().Verify(digest, good[:64], addr)
		assert.ErrorIs(t, err, ErrInvalidEncoding)
	})

	t.Run("bad recovery id", func(t *testing.T) {
		sig := append([]byte{}, good...)
		sig[64] = 29
		assert.ErrorIs(t, NewVerifier().Verify(digest, sig, addr), ErrInvalidEncoding)
	})

	t.Run("zero r", func(t *testing.T) {
		sig := append([]byte{}, good...)
		copy(sig[:32], make([]byte, 32))
		assert.ErrorIs(t, NewVerifier().Verify(digest, sig, addr), ErrInvalidSignature)
	})

	t.Run("high s", func(t *testing.T) {
		sig := append([]byte{}, good...)
		s := new(big.Int).SetBytes(sig[32:64])
		flipped := new(big.Int).Sub(crypto.S256().Params().N, s)
		copy(sig[32:64], common.LeftPadBytes(flipped.Bytes(), 32))
		sig[64] = 55 - sig[64]
		assert.ErrorIs(t, NewVerifier().Verify(digest, sig, addr), ErrMalleable)
	})
}

func TestRecover(t *testing.T) {
	addr, sign := newKey(t)
	digest := crypto.Keccak256Hash([]byte("authorization"))

	got, err := Recover(digest, sign(digest))
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}
