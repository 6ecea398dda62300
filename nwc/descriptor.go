package nwc

import (
	"encoding/hex"
	"net/url"
	"strings"

	"nostr-wallet/nostr"
)

const descriptorScheme = "nostr+walletconnect://"

// Descriptor holds everything needed to reach one wallet service: the
// wallet's pubkey, the relay it listens on, and the client secret with its
// derived keys. Both encryption keys are precomputed so call paths never
// touch ECDH.
type Descriptor struct {
	WalletPubKey    []byte // 32 bytes, x-only
	Relay           string
	Secret          []byte // 32-byte client signing key
	ClientPubKey    []byte
	ConversationKey []byte // NIP-44 v2
	Nip04SharedKey  []byte // fallback for wallets without NIP-44
}

// WalletPubKeyHex returns the wallet pubkey in its wire form.
func (d *Descriptor) WalletPubKeyHex() string { return hex.EncodeToString(d.WalletPubKey) }

// ClientPubKeyHex returns the derived client pubkey in its wire form.
func (d *Descriptor) ClientPubKeyHex() string { return hex.EncodeToString(d.ClientPubKey) }

func invalidDescriptor(msg string) error {
	return &Error{Code: CodeInvalidDescriptor, Message: msg}
}

// ParseDescriptor parses a nostr+walletconnect:// connection string:
//
//	nostr+walletconnect://<wallet-pubkey>?relay=<wss://...>&secret=<hex>
//
// Any malformed component yields an InvalidConnectionDescriptor error and
// no partially-usable result.
func ParseDescriptor(raw string) (*Descriptor, error) {
	if !strings.HasPrefix(raw, descriptorScheme) {
		return nil, invalidDescriptor("must start with " + descriptorScheme)
	}

	// url.Parse rejects the custom scheme, swap it for parsing only
	u, err := url.Parse(strings.Replace(raw, descriptorScheme, "https://", 1))
	if err != nil {
		return nil, invalidDescriptor("unparseable: " + err.Error())
	}

	walletHex := u.Host
	if len(walletHex) != 64 {
		return nil, invalidDescriptor("wallet pubkey must be 64 hex characters")
	}
	walletPubKey, err := hex.DecodeString(walletHex)
	if err != nil {
		return nil, invalidDescriptor("wallet pubkey is not valid hex")
	}

	relay := u.Query().Get("relay")
	if relay == "" {
		return nil, invalidDescriptor("missing relay parameter")
	}
	if !strings.HasPrefix(relay, "wss://") && !strings.HasPrefix(relay, "ws://") {
		return nil, invalidDescriptor("relay must be a ws:// or wss:// URL")
	}

	secretHex := u.Query().Get("secret")
	if secretHex == "" {
		return nil, invalidDescriptor("missing secret parameter")
	}
	if len(secretHex) != 64 {
		return nil, invalidDescriptor("secret must be 64 hex characters")
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, invalidDescriptor("secret is not valid hex")
	}

	clientPubKey, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, invalidDescriptor("cannot derive client pubkey: " + err.Error())
	}
	conversationKey, err := nostr.ConversationKey(secret, walletPubKey)
	if err != nil {
		return nil, invalidDescriptor("cannot derive conversation key: " + err.Error())
	}
	nip04Key, err := nostr.Nip04SharedSecret(secret, walletPubKey)
	if err != nil {
		return nil, invalidDescriptor("cannot derive nip04 shared key: " + err.Error())
	}

	return &Descriptor{
		WalletPubKey:    walletPubKey,
		Relay:           relay,
		Secret:          secret,
		ClientPubKey:    clientPubKey,
		ConversationKey: conversationKey,
		Nip04SharedKey:  nip04Key,
	}, nil
}
