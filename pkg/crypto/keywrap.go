package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/Mindstate-AI/sdk/pkg/envelope"
)

// WrapNonceSize is the box nonce length carried in a key envelope.
const WrapNonceSize = 24

// ErrUnwrapFailed is the single opaque unwrap failure. Wrong key and
// corrupted envelope are deliberately indistinguishable: differentiating them
// would hand an observer a decryption oracle.
var ErrUnwrapFailed = errors.New("crypto: key unwrap failed")

// GenerateKeyPair returns a fresh X25519 key pair for a protocol party.
func GenerateKeyPair() (publicKey, secretKey *[32]byte, err error) {
	return box.GenerateKey(rand.Reader)
}

// WrapKey seals a content key for one recipient. A fresh 24-byte nonce is
// drawn per call, and the embedded sender public key is derived from
// senderSecret — a caller-supplied sender public key is never trusted, so the
// envelope always authenticates the party that actually holds the secret.
//
// The returned envelope is safe to store anywhere, including fully public
// locations: confidentiality comes from the wrap, not the transport.
func WrapKey(contentKey []byte, recipientPublic, senderSecret *[32]byte) (*envelope.KeyEnvelope, error) {
	if len(contentKey) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	var nonce [WrapNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	senderPublic, err := curve25519.X25519(senderSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	wrapped := box.Seal(nil, contentKey, &nonce, recipientPublic, senderSecret)

	return &envelope.KeyEnvelope{
		WrappedKey:      wrapped,
		Nonce:           nonce[:],
		SenderPublicKey: senderPublic,
	}, nil
}

// UnwrapKey opens a key envelope with the recipient's secret key. Every
// failure surfaces as ErrUnwrapFailed.
func UnwrapKey(env *envelope.KeyEnvelope, recipientSecret *[32]byte) ([]byte, error) {
	if env == nil || len(env.Nonce) != WrapNonceSize || len(env.SenderPublicKey) != 32 {
		return nil, ErrUnwrapFailed
	}

	var nonce [WrapNonceSize]byte
	copy(nonce[:], env.Nonce)
	var senderPublic [32]byte
	copy(senderPublic[:], env.SenderPublicKey)

	contentKey, ok := box.Open(nil, env.WrappedKey, &nonce, &senderPublic, recipientSecret)
	if !ok || len(contentKey) != KeySize {
		return nil, ErrUnwrapFailed
	}
	return contentKey, nil
}
