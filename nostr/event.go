package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Event kinds used by the wallet-connect protocol.
const (
	KindWalletInfo     = 13194 // wallet service capability advertisement
	KindWalletRequest  = 23194 // client request to wallet
	KindWalletResponse = 23195 // wallet response to client
	KindClientAuth     = 22242 // NIP-42 relay auth
)

// Event is the signed wire unit exchanged with relays.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Sealed reports whether the event carries an id and signature.
// Unsealed events must never reach a relay.
func (e *Event) Sealed() bool {
	return e != nil && e.ID != "" && e.Sig != ""
}

// TagValue returns the second element of the first tag whose name matches,
// or "" when no such tag exists.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Serialize produces the canonical [0,pubkey,created_at,kind,tags,content]
// array per NIP-01. HTML escaping is disabled: the relay hashes the exact
// bytes, so "<" must stay "<".
func (e *Event) Serialize() []byte {
	arr := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil
	}
	// Encode appends a trailing newline
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// ComputeID returns the sha256 of the canonical serialization, hex-encoded.
func (e *Event) ComputeID() string {
	hash := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(hash[:])
}
