package nwc

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-wallet/nostr"
)

func validURI(t *testing.T) (string, []byte, []byte) {
	t.Helper()
	walletSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	walletPub, err := nostr.GetPublicKey(walletSecret)
	require.NoError(t, err)
	clientSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	uri := fmt.Sprintf("nostr+walletconnect://%x?relay=wss://relay.example.com&secret=%x",
		walletPub, clientSecret)
	return uri, walletPub, clientSecret
}

func TestParseDescriptor(t *testing.T) {
	uri, walletPub, clientSecret := validURI(t)

	d, err := ParseDescriptor(uri)
	require.NoError(t, err)
	require.Equal(t, walletPub, d.WalletPubKey)
	require.Equal(t, "wss://relay.example.com", d.Relay)
	require.Equal(t, clientSecret, d.Secret)

	clientPub, err := nostr.GetPublicKey(clientSecret)
	require.NoError(t, err)
	require.Equal(t, clientPub, d.ClientPubKey)
	require.Len(t, d.ConversationKey, 32)
	require.Len(t, d.Nip04SharedKey, 32)
	require.Equal(t, hex.EncodeToString(walletPub), d.WalletPubKeyHex())
}

func TestParseDescriptorKeysSymmetric(t *testing.T) {
	// the wallet derives the same conversation key from its own secret
	walletSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	walletPub, err := nostr.GetPublicKey(walletSecret)
	require.NoError(t, err)
	clientSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)

	uri := fmt.Sprintf("nostr+walletconnect://%x?relay=wss://r.example&secret=%x",
		walletPub, clientSecret)
	d, err := ParseDescriptor(uri)
	require.NoError(t, err)

	walletConvKey, err := nostr.ConversationKey(walletSecret, d.ClientPubKey)
	require.NoError(t, err)
	require.Equal(t, d.ConversationKey, walletConvKey)

	walletShared, err := nostr.Nip04SharedSecret(walletSecret, d.ClientPubKey)
	require.NoError(t, err)
	require.Equal(t, d.Nip04SharedKey, walletShared)
}

func TestParseDescriptorRejectsMalformed(t *testing.T) {
	_, walletPub, clientSecret := validURI(t)

	cases := map[string]string{
		"wrong scheme":     "https://example.com?relay=wss://r&secret=aa",
		"short pubkey":     fmt.Sprintf("nostr+walletconnect://abcd?relay=wss://r.example&secret=%x", clientSecret),
		"non-hex pubkey":   fmt.Sprintf("nostr+walletconnect://%s?relay=wss://r.example&secret=%x", "zz"+strings.Repeat("a", 62), clientSecret),
		"missing relay":    fmt.Sprintf("nostr+walletconnect://%x?secret=%x", walletPub, clientSecret),
		"http relay":       fmt.Sprintf("nostr+walletconnect://%x?relay=http://r.example&secret=%x", walletPub, clientSecret),
		"missing secret":   fmt.Sprintf("nostr+walletconnect://%x?relay=wss://r.example", walletPub),
		"short secret":     fmt.Sprintf("nostr+walletconnect://%x?relay=wss://r.example&secret=abcd", walletPub),
		"non-hex secret":   fmt.Sprintf("nostr+walletconnect://%x?relay=wss://r.example&secret=%s", walletPub, "zz"+strings.Repeat("a", 62)),
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDescriptor(bad)
			require.Error(t, err)
			require.True(t, IsCode(err, CodeInvalidDescriptor), "got %v", err)
		})
	}
}
