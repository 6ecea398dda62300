package nostr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NIP-04 encryption (AES-256-CBC). Deprecated by NIP-44 but still the only
// scheme many deployed wallets understand.

// Nip04SharedSecret computes the ECDH shared secret used as the AES key.
// Returns just the x coordinate per RFC 5903 section 9, zero-padded to 32
// bytes when the leading bytes are zero.
func Nip04SharedSecret(secret, pubKey []byte) ([]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(secret)
	if priv == nil {
		return nil, errors.New("invalid private key")
	}
	pub, err := parseXOnlyPubKey(pubKey)
	if err != nil {
		return nil, err
	}

	sharedX := btcec.GenerateSharedSecret(priv, pub)
	if len(sharedX) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(sharedX):], sharedX)
		return padded, nil
	}
	return sharedX, nil
}

// EncryptNip04 encrypts plaintext, returning base64(ciphertext)?iv=base64(iv).
func EncryptNip04(plaintext string, sharedSecret []byte) (string, error) {
	if len(sharedSecret) != 32 {
		return "", errors.New("shared secret must be 32 bytes")
	}

	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	// PKCS7 padding
	raw := []byte(plaintext)
	padding := aes.BlockSize - (len(raw) % aes.BlockSize)
	padded := make([]byte, len(raw)+padding)
	copy(padded, raw)
	for i := len(raw); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptNip04 decrypts a base64(ciphertext)?iv=base64(iv) payload.
func DecryptNip04(payload string, sharedSecret []byte) (string, error) {
	parts := strings.Split(payload, "?iv=")
	if len(parts) != 2 {
		return "", errors.New("invalid NIP-04 payload format")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errors.New("invalid ciphertext base64")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("invalid IV base64")
	}
	if len(iv) != 16 {
		return "", errors.New("invalid IV length")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not a multiple of block size")
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding > aes.BlockSize || padding == 0 || padding > len(plaintext) {
		return "", errors.New("invalid padding")
	}
	for i := len(plaintext) - padding; i < len(plaintext); i++ {
		if plaintext[i] != byte(padding) {
			return "", errors.New("invalid padding bytes")
		}
	}
	return string(plaintext[:len(plaintext)-padding]), nil
}
