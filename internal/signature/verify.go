package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r||s||v signature
const SignatureLength = crypto.SignatureLength

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidEncoding  = fmt.Errorf("%w: malformed encoding", ErrInvalidSignature)
	ErrMalleable        = fmt.Errorf("%w: s value in upper half order", ErrInvalidSignature)
	ErrZeroSigner       = fmt.Errorf("%w: recovered zero address", ErrInvalidSignature)
	ErrSignerMismatch   = fmt.Errorf("%w: signer mismatch", ErrInvalidSignature)
)

// Verifier checks that a digest was signed by an expected address
type Verifier interface {
	Verify(digest common.Hash, sig []byte, expected common.Address) error
}

// ECDSAVerifier verifies secp256k1 signatures by public key recovery
type ECDSAVerifier struct{}

// NewVerifier creates a secp256k1 verifier
func NewVerifier() *ECDSAVerifier {
	return &ECDSAVerifier{}
}

// Verify recovers the signer of digest and compares it to expected
func (ECDSAVerifier) Verify(digest common.Hash, sig []byte, expected common.Address) error {
	signer, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrSignerMismatch, signer.Hex(), expected.Hex())
	}
	return nil
}

// Recover returns the address that produced sig over digest.
// Both v in {0,1} and the Ethereum {27,28} convention are accepted.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidEncoding, len(sig))
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	v := normalized[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidEncoding, sig[crypto.RecoveryIDOffset])
	}
	normalized[crypto.RecoveryIDOffset] = v

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, false) {
		return common.Address{}, fmt.Errorf("%w: r or s out of range", ErrInvalidEncoding)
	}
	if s.Cmp(secp256k1HalfN) > 0 {
		return common.Address{}, ErrMalleable
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer == (common.Address{}) {
		return common.Address{}, ErrZeroSigner
	}
	return signer, nil
}

// Sign produces a 65-byte signature with v in {27,28}
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

var secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)
