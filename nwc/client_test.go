package nwc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nostr-wallet/internal/relaytest"
	"nostr-wallet/nostr"
	"nostr-wallet/relaypool"
)

// fakeWallet is an in-process wallet service: it advertises its methods
// via a stored kind-13194 event and answers kind-23194 requests through
// the fake relay's publish hook.
type fakeWallet struct {
	relay   *relaytest.Relay
	secret  []byte
	pubKey  []byte
	signer  nostr.Signer
	methods string

	// respond builds the reply for one decrypted request; nil means
	// stay silent.
	respond func(method string, params json.RawMessage) *response
}

func newFakeWallet(t *testing.T, relay *relaytest.Relay, methods string) *fakeWallet {
	t.Helper()
	secret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	signer, err := nostr.NewLocalSigner(secret)
	require.NoError(t, err)
	pubKey, err := nostr.GetPublicKey(secret)
	require.NoError(t, err)

	w := &fakeWallet{
		relay:   relay,
		secret:  secret,
		pubKey:  pubKey,
		signer:  signer,
		methods: methods,
	}

	info := nostr.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindWalletInfo,
		Tags:      [][]string{},
		Content:   methods,
	}
	require.NoError(t, signer.Sign(&info))
	relay.Store(info)

	relay.OnEvent = w.handleRequest
	return w
}

func (w *fakeWallet) handleRequest(ev nostr.Event) {
	if ev.Kind != nostr.KindWalletRequest {
		return
	}
	shared, err := nostr.Nip04SharedSecret(w.secret, mustHex(ev.PubKey))
	if err != nil {
		return
	}
	plaintext, err := nostr.DecryptNip04(ev.Content, shared)
	if err != nil {
		return
	}
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(plaintext), &req); err != nil {
		return
	}
	if w.respond == nil {
		return
	}
	resp := w.respond(req.Method, req.Params)
	if resp == nil {
		return
	}
	w.sendResponse(ev, resp)
}

func (w *fakeWallet) sendResponse(req nostr.Event, resp *response) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	convKey, err := nostr.ConversationKey(w.secret, mustHex(req.PubKey))
	if err != nil {
		return
	}
	encrypted, err := nostr.EncryptNip44(string(body), convKey)
	if err != nil {
		return
	}
	out := nostr.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindWalletResponse,
		Tags:      [][]string{{"e", req.ID}, {"p", req.PubKey}},
		Content:   encrypted,
	}
	if err := w.signer.Sign(&out); err != nil {
		return
	}
	w.relay.Broadcast(out)
}

func mustHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

// testClient wires a fake relay, fake wallet, pool, and client together.
func testClient(t *testing.T, methods string, cfg Config) (*Client, *fakeWallet) {
	t.Helper()
	relay := relaytest.New()
	t.Cleanup(relay.Close)

	wallet := newFakeWallet(t, relay, methods)

	clientSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	uri := fmt.Sprintf("nostr+walletconnect://%x?relay=%s&secret=%x",
		wallet.pubKey, relay.URL(), clientSecret)
	desc, err := ParseDescriptor(uri)
	require.NoError(t, err)

	pool := relaypool.New(relaypool.Config{})
	t.Cleanup(pool.Shutdown)

	client, err := New(desc, pool, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, wallet
}

func TestConnectReadsCapabilities(t *testing.T) {
	client, _ := testClient(t, "pay_invoice get_balance get_info", Config{})

	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, StateConnected, client.State())
	require.ElementsMatch(t,
		[]string{"pay_invoice", "get_balance", "get_info"},
		client.Capabilities())
}

func TestConnectTimesOutWithoutInfoEvent(t *testing.T) {
	relay := relaytest.New()
	t.Cleanup(relay.Close)

	// a wallet that never published its info event
	walletSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	walletPub, err := nostr.GetPublicKey(walletSecret)
	require.NoError(t, err)
	clientSecret, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)

	desc, err := ParseDescriptor(fmt.Sprintf(
		"nostr+walletconnect://%x?relay=%s&secret=%x", walletPub, relay.URL(), clientSecret))
	require.NoError(t, err)

	pool := relaypool.New(relaypool.Config{})
	t.Cleanup(pool.Shutdown)
	client, err := New(desc, pool, Config{ConnTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	err = client.Connect(context.Background())
	require.Error(t, err)
	require.True(t, IsCode(err, CodeConnectionTimeout))
	require.Equal(t, StateDisconnected, client.State())
}

func TestGetBalanceRoundTrip(t *testing.T) {
	client, wallet := testClient(t, "get_balance", Config{})
	wallet.respond = func(method string, params json.RawMessage) *response {
		require.Equal(t, MethodGetBalance, method)
		return &response{
			ResultType: MethodGetBalance,
			Result:     json.RawMessage(`{"balance":210000}`),
		}
	}

	require.NoError(t, client.Connect(context.Background()))
	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(210000), balance.Balance)
}

func TestPayInvoiceRoundTrip(t *testing.T) {
	client, wallet := testClient(t, "pay_invoice", Config{})
	wallet.respond = func(method string, params json.RawMessage) *response {
		var p PayInvoiceParams
		require.NoError(t, json.Unmarshal(params, &p))
		require.Equal(t, "lnbc10n1fake", p.Invoice)
		return &response{
			ResultType: MethodPayInvoice,
			Result:     json.RawMessage(`{"preimage":"00ff","fees_paid":2}`),
		}
	}

	require.NoError(t, client.Connect(context.Background()))
	result, err := client.PayInvoice(context.Background(), "lnbc10n1fake", 0)
	require.NoError(t, err)
	require.Equal(t, "00ff", result.Preimage)
	require.Equal(t, int64(2), result.FeesPaid)
}

func TestRemoteErrorSurfaced(t *testing.T) {
	client, wallet := testClient(t, "pay_invoice", Config{})
	wallet.respond = func(method string, params json.RawMessage) *response {
		return &response{
			ResultType: MethodPayInvoice,
			Error:      &remoteError{Code: RemoteInsufficientBalance, Message: "broke"},
		}
	}

	require.NoError(t, client.Connect(context.Background()))
	_, err := client.PayInvoice(context.Background(), "lnbc10n1fake", 0)
	require.Error(t, err)
	require.True(t, IsCode(err, RemoteInsufficientBalance))

	var ne *Error
	require.ErrorAs(t, err, &ne)
	require.True(t, ne.Remote)
	require.Equal(t, "broke", ne.Message)
}

func TestUnsupportedMethodGatedBeforePublish(t *testing.T) {
	client, wallet := testClient(t, "get_balance", Config{})

	require.NoError(t, client.Connect(context.Background()))
	_, err := client.PayInvoice(context.Background(), "lnbc10n1fake", 0)
	require.True(t, IsCode(err, CodeUnsupportedMethod))

	// nothing hit the wire
	for _, ev := range wallet.relay.Published() {
		require.NotEqual(t, nostr.KindWalletRequest, ev.Kind)
	}
}

func TestNotConnected(t *testing.T) {
	client, _ := testClient(t, "get_balance", Config{})

	_, err := client.GetBalance(context.Background())
	require.True(t, IsCode(err, CodeNotConnected))
}

func TestRequestTimeoutBounded(t *testing.T) {
	client, _ := testClient(t, "get_balance", Config{
		RequestTimeout: 150 * time.Millisecond,
	})
	// wallet stays silent: respond is nil

	require.NoError(t, client.Connect(context.Background()))

	start := time.Now()
	_, err := client.GetBalance(context.Background())
	elapsed := time.Since(start)

	require.True(t, IsCode(err, CodeRequestTimeout))
	require.Less(t, elapsed, 2*time.Second)

	// the relay acked the publish, so the error says the wallet went silent
	var ne *Error
	require.ErrorAs(t, err, &ne)
	require.Contains(t, ne.Message, "wallet never answered")
}

func TestImmediateTimeoutStillReturns(t *testing.T) {
	client, _ := testClient(t, "get_balance", Config{
		RequestTimeout: time.Nanosecond,
	})

	require.NoError(t, client.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := client.GetBalance(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.True(t, IsCode(err, CodeRequestTimeout), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("call wedged on an immediate timeout")
	}
	require.Equal(t, StateConnected, client.State())
}

func TestEmptyCapabilitySetSkipsGating(t *testing.T) {
	client, wallet := testClient(t, "", Config{})
	wallet.respond = func(method string, params json.RawMessage) *response {
		return &response{ResultType: MethodGetBalance, Result: json.RawMessage(`{"balance":5}`)}
	}

	require.NoError(t, client.Connect(context.Background()))
	require.Empty(t, client.Capabilities())

	// with no advertised methods the gate stands aside and the wallet decides
	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), balance.Balance)
}

func TestDuplicateResponseIgnored(t *testing.T) {
	client, wallet := testClient(t, "get_balance", Config{})
	wallet.respond = func(method string, params json.RawMessage) *response {
		return &response{
			ResultType: MethodGetBalance,
			Result:     json.RawMessage(`{"balance":1}`),
		}
	}

	require.NoError(t, client.Connect(context.Background()))
	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), balance.Balance)

	// replay the same correlated response; it must be dropped silently
	published := wallet.relay.Published()
	require.NotEmpty(t, published)
	req := published[len(published)-1]
	wallet.sendResponse(req, &response{
		ResultType: MethodGetBalance,
		Result:     json.RawMessage(`{"balance":999}`),
	})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateConnected, client.State())
}

func TestPublishRateLimit(t *testing.T) {
	client, wallet := testClient(t, "get_balance", Config{
		PublishLimit:  1,
		PublishWindow: time.Minute,
	})
	wallet.respond = func(method string, params json.RawMessage) *response {
		return &response{ResultType: MethodGetBalance, Result: json.RawMessage(`{"balance":1}`)}
	}

	require.NoError(t, client.Connect(context.Background()))
	_, err := client.GetBalance(context.Background())
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background())
	require.True(t, IsCode(err, CodeRateLimited))
}

func TestDisconnectCancelsPending(t *testing.T) {
	client, _ := testClient(t, "get_balance", Config{
		RequestTimeout: 10 * time.Second,
	})
	// silent wallet keeps the call pending

	require.NoError(t, client.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := client.GetBalance(context.Background())
		errCh <- err
	}()

	// let the request reach the pending table
	time.Sleep(100 * time.Millisecond)
	client.Disconnect()

	select {
	case err := <-errCh:
		require.True(t, IsCode(err, CodeConnectionLost))
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not cancelled by disconnect")
	}
	require.Equal(t, StateDisconnected, client.State())
}
