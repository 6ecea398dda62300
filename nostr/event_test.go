package nostr

import (
	"encoding/json"
	"testing"
)

func TestEventIDStableAcrossRoundtrip(t *testing.T) {
	original := &Event{
		PubKey:    "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990eec",
		CreatedAt: 1764783557,
		Kind:      KindWalletRequest,
		Tags: [][]string{
			{"p", "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"},
		},
		Content: `{"method":"get_balance","params":{}}`,
	}
	original.ID = original.ComputeID()

	jsonBytes, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed Event
	if err := json.Unmarshal(jsonBytes, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got := parsed.ComputeID(); got != original.ID {
		t.Errorf("ID mismatch after roundtrip:\n  original: %s\n  parsed:   %s", original.ID, got)
	}
}

func TestEventIDNoHTMLEscaping(t *testing.T) {
	// Content with <, > and & must hash identically on both ends; encoders
	// that HTML-escape produce a different serialization and a different id.
	e := &Event{
		PubKey:    "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990eec",
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      [][]string{},
		Content:   `a < b && c > d`,
	}
	serialized := string(e.Serialize())
	if want := `[0,"bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990eec",1700000000,1,[],"a < b && c > d"]`; serialized != want {
		t.Errorf("serialization mismatch:\n  got:  %s\n  want: %s", serialized, want)
	}
}

func TestSignAndVerify(t *testing.T) {
	secret, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey failed: %v", err)
	}
	signer, err := NewLocalSigner(secret)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}

	e := &Event{
		CreatedAt: 1764783557,
		Kind:      KindWalletRequest,
		Tags:      [][]string{{"p", signer.Public()}},
		Content:   "payload",
	}
	if e.Sealed() {
		t.Fatal("event sealed before signing")
	}
	if err := signer.Sign(e); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !e.Sealed() {
		t.Fatal("event not sealed after signing")
	}
	if !VerifySignature(e) {
		t.Error("signature did not verify")
	}

	e.Content = "tampered"
	if VerifySignature(e) {
		t.Error("tampered event verified")
	}
}

func TestFilterMatches(t *testing.T) {
	since := int64(100)
	f := Filter{
		Kinds: []int{KindWalletResponse},
		PTags: []string{"abc"},
		Since: &since,
	}

	e := &Event{
		ID:        "id1",
		Kind:      KindWalletResponse,
		CreatedAt: 150,
		Tags:      [][]string{{"p", "abc"}, {"e", "req1"}},
	}
	if !f.Matches(e) {
		t.Error("expected match")
	}

	e.CreatedAt = 50
	if f.Matches(e) {
		t.Error("matched event older than since")
	}

	e.CreatedAt = 150
	e.Tags = [][]string{{"p", "other"}}
	if f.Matches(e) {
		t.Error("matched event with wrong p tag")
	}
}
