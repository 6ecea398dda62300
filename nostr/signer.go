package nostr

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Signer seals events: it derives the content-addressed id and produces the
// authorship proof. Callers treat it as a black box so that remote signers
// (NIP-46 bunkers, hardware keys) can slot in behind the same interface.
type Signer interface {
	// Public returns the signing identity as a 64-char hex x-only pubkey.
	Public() string
	// Sign fills in e.PubKey, e.ID and e.Sig. The event is sealed afterwards.
	Sign(e *Event) error
}

// LocalSigner signs with an in-process secp256k1 key.
type LocalSigner struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// NewLocalSigner wraps a 32-byte private key.
func NewLocalSigner(secret []byte) (*LocalSigner, error) {
	if len(secret) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}
	priv, _ := btcec.PrivKeyFromBytes(secret)
	if priv == nil {
		return nil, errors.New("invalid private key")
	}
	// x-only pubkey, BIP-340 format
	pub := priv.PubKey().SerializeCompressed()[1:]
	return &LocalSigner{priv: priv, pubHex: hex.EncodeToString(pub)}, nil
}

// GeneratePrivateKey returns a fresh random secp256k1 private key.
func GeneratePrivateKey() ([]byte, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return priv.Serialize(), nil
}

// GetPublicKey derives the x-only public key (32 bytes) from a private key.
func GetPublicKey(secret []byte) ([]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(secret)
	if priv == nil {
		return nil, errors.New("invalid private key")
	}
	return priv.PubKey().SerializeCompressed()[1:], nil
}

func (s *LocalSigner) Public() string { return s.pubHex }

func (s *LocalSigner) Sign(e *Event) error {
	e.PubKey = s.pubHex
	e.ID = e.ComputeID()
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(s.priv, idBytes)
	if err != nil {
		return err
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// VerifySignature checks the schnorr signature of a sealed event against its
// author's pubkey and recomputed id.
func VerifySignature(e *Event) bool {
	if len(e.Sig) != 128 || len(e.PubKey) != 64 {
		return false
	}
	if e.ComputeID() != e.ID {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false
	}
	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	return sig.Verify(idBytes, pub)
}
