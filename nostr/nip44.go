package nostr

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// NIP-44 version 2 payload encryption.

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	minPlaintextSize = 1
	maxPlaintextSize = 65535
)

// ConversationKey derives the symmetric session key between two parties via
// ECDH over secp256k1 followed by an HKDF extract with the "nip44-v2" salt.
func ConversationKey(secret, pubKey []byte) ([]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(secret)
	if priv == nil {
		return nil, errors.New("invalid private key")
	}
	pub, err := parseXOnlyPubKey(pubKey)
	if err != nil {
		return nil, err
	}

	sharedX, _ := pub.ToECDSA().Curve.ScalarMult(pub.X(), pub.Y(), priv.Serialize())

	shared := make([]byte, 32)
	raw := sharedX.Bytes()
	copy(shared[32-len(raw):], raw)

	return hkdf.Extract(sha256.New, shared, []byte(nip44Salt)), nil
}

// parseXOnlyPubKey lifts a 32-byte x-only key onto the curve, trying both
// y parities.
func parseXOnlyPubKey(pubKey []byte) (*btcec.PublicKey, error) {
	withPrefix := append([]byte{0x02}, pubKey...)
	pub, err := btcec.ParsePubKey(withPrefix)
	if err != nil {
		withPrefix[0] = 0x03
		pub, err = btcec.ParsePubKey(withPrefix)
		if err != nil {
			return nil, errors.New("invalid public key")
		}
	}
	return pub, nil
}

// messageKeys expands the conversation key and nonce into the ChaCha20 key,
// ChaCha20 nonce, and HMAC key.
func messageKeys(conversationKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, errors.New("invalid conversation key length")
	}
	if len(nonce) != 32 {
		return nil, nil, nil, errors.New("invalid nonce length")
	}
	reader := hkdf.Expand(sha256.New, conversationKey, nonce)
	keys := make([]byte, 76)
	if _, err := reader.Read(keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func paddedLen(unpadded int) int {
	if unpadded <= 32 {
		return 32
	}
	nextPower := 1 << int(math.Floor(math.Log2(float64(unpadded-1)))+1)
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * (int(math.Floor(float64(unpadded-1)/float64(chunk))) + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintextSize || n > maxPlaintextSize {
		return nil, errors.New("invalid plaintext length")
	}
	result := make([]byte, 2+paddedLen(n))
	binary.BigEndian.PutUint16(result[0:2], uint16(n))
	copy(result[2:], plaintext)
	return result, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, errors.New("padded data too short")
	}
	n := int(binary.BigEndian.Uint16(padded[0:2]))
	if n == 0 || n > len(padded)-2 {
		return nil, errors.New("invalid padding")
	}
	if len(padded) != 2+paddedLen(n) {
		return nil, errors.New("invalid padded length")
	}
	return padded[2 : 2+n], nil
}

func hmacAAD(key, message, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}

// EncryptNip44 encrypts plaintext under a conversation key with a random
// nonce, returning the base64 payload.
func EncryptNip44(plaintext string, conversationKey []byte) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return encryptNip44WithNonce(plaintext, conversationKey, nonce)
}

func encryptNip44WithNonce(plaintext string, conversationKey, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := hmacAAD(hmacKey, ciphertext, nonce)

	// version || nonce || ciphertext || mac
	result := make([]byte, 1+32+len(ciphertext)+32)
	result[0] = nip44Version
	copy(result[1:33], nonce)
	copy(result[33:33+len(ciphertext)], ciphertext)
	copy(result[33+len(ciphertext):], mac)

	return base64.StdEncoding.EncodeToString(result), nil
}

// DecryptNip44 decrypts a NIP-44 v2 payload.
func DecryptNip44(payload string, conversationKey []byte) (string, error) {
	if len(payload) > 0 && payload[0] == '#' {
		return "", errors.New("unsupported encryption version")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", errors.New("invalid base64")
	}
	if len(data) < 99 || len(data) > 65603 {
		return "", errors.New("invalid payload size")
	}
	if data[0] != nip44Version {
		return "", errors.New("unknown version")
	}

	nonce := data[1:33]
	ciphertext := data[33 : len(data)-32]
	mac := data[len(data)-32:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	if !hmac.Equal(hmacAAD(hmacKey, ciphertext, nonce), mac) {
		return "", errors.New("invalid MAC")
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
