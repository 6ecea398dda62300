// Package nwc implements a Nostr Wallet Connect (NIP-47) client: requests
// are sealed kind-23194 events published to the wallet's relay, responses
// arrive as kind-23195 events and are matched back to their caller through
// a pending-call table.
package nwc

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"nostr-wallet/internal/ratelimit"
	"nostr-wallet/nostr"
	"nostr-wallet/relaypool"
)

// State is the client's connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the client's tunables.
type Config struct {
	ConnTimeout    time.Duration // handshake deadline
	RequestTimeout time.Duration // per-call response deadline
	PaymentTimeout time.Duration // pay_invoice response deadline

	PublishLimit  int           // outbound events per PublishWindow, 0 disables
	PublishWindow time.Duration

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
}

// DefaultConfig returns the defaults used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		ConnTimeout:          10 * time.Second,
		RequestTimeout:       30 * time.Second,
		PaymentTimeout:       60 * time.Second,
		PublishWindow:        time.Minute,
		MaxReconnectAttempts: 5,
		ReconnectBase:        time.Second,
		ReconnectCap:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = d.ConnTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = d.PaymentTimeout
	}
	if c.PublishWindow <= 0 {
		c.PublishWindow = d.PublishWindow
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = d.ReconnectBase
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = d.ReconnectCap
	}
	return c
}

// pendingCall is one in-flight request. Removal from the pending table is
// atomic (LoadAndDelete), so only one of response-arrival, timeout, or
// disconnect delivers; the once makes resolution a no-op for any duplicate
// holder.
type pendingCall struct {
	ch   chan *response
	once sync.Once
}

func (p *pendingCall) resolve(resp *response) {
	p.once.Do(func() { p.ch <- resp })
}

// Client is a wallet-connect RPC client bound to one Descriptor. Safe for
// concurrent use.
type Client struct {
	desc   *Descriptor
	pool   *relaypool.Pool
	signer nostr.Signer
	cfg    Config

	mu           sync.Mutex
	state        State
	conn         *relaypool.RelayConn
	sub          *relaypool.Subscription
	capabilities map[string]bool
	closed       bool

	pending *xsync.MapOf[string, *pendingCall]
	limiter *ratelimit.Limiter
}

// New builds a client over the given pool. The descriptor's secret becomes
// the signing key for all outbound requests.
func New(desc *Descriptor, pool *relaypool.Pool, cfg Config) (*Client, error) {
	signer, err := nostr.NewLocalSigner(desc.Secret)
	if err != nil {
		return nil, invalidDescriptor("secret is not a usable signing key: " + err.Error())
	}
	cfg = cfg.withDefaults()
	c := &Client{
		desc:    desc,
		pool:    pool,
		signer:  signer,
		cfg:     cfg,
		pending: xsync.NewMapOf[string, *pendingCall](),
	}
	if cfg.PublishLimit > 0 {
		c.limiter = ratelimit.New(cfg.PublishLimit, cfg.PublishWindow)
	}
	return c, nil
}

// State returns the current lifecycle phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether calls can currently be issued.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Capabilities returns the method set advertised by the wallet's info
// event, nil before Connect.
func (c *Client) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.capabilities))
	for m := range c.capabilities {
		out = append(out, m)
	}
	return out
}

// Connect acquires the wallet's relay, subscribes for responses addressed
// to this client, and reads the wallet's kind-13194 info event for its
// capability set. No info event within ConnTimeout fails the handshake
// with a ConnectionTimeout error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &Error{Code: CodeConnectionLost, Message: "client closed"}
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
	}
	return err
}

func (c *Client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnTimeout)
	defer cancel()

	conn, err := c.pool.Acquire(ctx, c.desc.Relay)
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(ctx, nostr.Filter{
		Kinds: []int{nostr.KindWalletResponse},
		PTags: []string{c.desc.ClientPubKeyHex()},
	})
	if err != nil {
		return err
	}

	caps, err := c.fetchCapabilities(ctx, conn)
	if err != nil {
		sub.Close()
		return err
	}
	if len(caps) == 0 {
		// no gating possible, every method goes out and the wallet
		// answers NOT_IMPLEMENTED itself
		slog.Warn("nwc: wallet info event advertises no methods",
			"wallet", c.desc.WalletPubKeyHex())
	}

	c.mu.Lock()
	c.conn = conn
	c.sub = sub
	c.capabilities = caps
	c.state = StateConnected
	c.mu.Unlock()

	go c.readResponses(sub)

	slog.Debug("nwc: connected",
		"relay", c.desc.Relay, "wallet", c.desc.WalletPubKeyHex(), "methods", len(caps))
	return nil
}

// fetchCapabilities reads the wallet's info event. Its content is the
// space-separated method list.
func (c *Client) fetchCapabilities(ctx context.Context, conn *relaypool.RelayConn) (map[string]bool, error) {
	infoSub, err := conn.Subscribe(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindWalletInfo},
		Authors: []string{c.desc.WalletPubKeyHex()},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	defer infoSub.Close()

	for {
		select {
		case ev := <-infoSub.Events:
			return parseCapabilities(ev.Content), nil
		case <-infoSub.Done():
			return nil, &Error{Code: CodeConnectionLost, Message: "relay dropped during handshake"}
		case <-ctx.Done():
			return nil, &Error{Code: CodeConnectionTimeout, Message: "no wallet info event"}
		}
	}
}

// readResponses drains the response subscription until the relay drops it,
// resolving pending calls as their responses arrive.
func (c *Client) readResponses(sub *relaypool.Subscription) {
	for {
		select {
		case ev := <-sub.Events:
			c.handleResponse(&ev)
		case <-sub.Done():
			c.connectionLost()
			return
		}
	}
}

// handleResponse decrypts a kind-23195 event and routes it to its caller.
// Responses correlate by their `e` tag (the request event id); events
// without one fall back to id equality. Unmatched or malformed responses
// are dropped with a debug log.
func (c *Client) handleResponse(ev *nostr.Event) {
	plaintext, err := c.decrypt(ev.Content)
	if err != nil {
		slog.Debug("nwc: undecryptable response", "id", ev.ID, "error", err)
		return
	}

	var resp response
	if err := json.Unmarshal([]byte(plaintext), &resp); err != nil {
		slog.Debug("nwc: malformed response", "id", ev.ID, "error", err)
		return
	}

	key := ev.TagValue("e")
	if key == "" {
		key = ev.ID
	}
	call, ok := c.pending.LoadAndDelete(key)
	if !ok {
		slog.Debug("nwc: unmatched response", "request_id", key, "result_type", resp.ResultType)
		return
	}
	call.resolve(&resp)
}

// decrypt tries NIP-44 first, then the NIP-04 legacy format.
func (c *Client) decrypt(content string) (string, error) {
	plaintext, err := nostr.DecryptNip44(content, c.desc.ConversationKey)
	if err == nil {
		return plaintext, nil
	}
	return nostr.DecryptNip04(content, c.desc.Nip04SharedKey)
}

// call runs one RPC round trip: gate, seal, publish, await.
func (c *Client) call(ctx context.Context, method string, params interface{}, timeout time.Duration, timeoutCode string) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, &Error{Code: CodeNotConnected}
	}
	if len(c.capabilities) > 0 && !c.capabilities[method] {
		c.mu.Unlock()
		return nil, &Error{Code: CodeUnsupportedMethod, Message: method}
	}
	conn := c.conn
	c.mu.Unlock()

	if c.limiter != nil {
		if ok, _ := c.limiter.Allow(c.desc.Relay); !ok {
			return nil, &Error{Code: CodeRateLimited, Message: "publish budget exhausted"}
		}
	}

	body, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	encrypted, err := nostr.EncryptNip04(string(body), c.desc.Nip04SharedKey)
	if err != nil {
		return nil, err
	}

	ev := &nostr.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindWalletRequest,
		Tags:      [][]string{{"p", c.desc.WalletPubKeyHex()}},
		Content:   encrypted,
	}
	if err := c.signer.Sign(ev); err != nil {
		return nil, err
	}

	// registered before the publish so the response cannot outrun the table
	call := &pendingCall{ch: make(chan *response, 1)}
	c.pending.Store(ev.ID, call)

	if err := conn.Publish(ctx, ev); err != nil {
		c.pending.Delete(ev.ID)
		return nil, err
	}
	slog.Debug("nwc: request published", "method", method, "id", ev.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-call.ch:
		return unwrapResponse(resp)
	case <-timer.C:
		c.pending.LoadAndDelete(ev.ID)
		select {
		case resp := <-call.ch:
			// the response lost the race by a hair, take it anyway
			return unwrapResponse(resp)
		default:
		}
		msg := method
		if conn.Accepted(ev.ID) {
			msg = method + ": relay accepted the request but the wallet never answered"
		}
		return nil, &Error{Code: timeoutCode, Message: msg}
	case <-ctx.Done():
		c.pending.LoadAndDelete(ev.ID)
		return nil, ctx.Err()
	}
}

func unwrapResponse(resp *response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, &Error{Code: resp.Error.Code, Message: resp.Error.Message, Remote: isRemoteCode(resp.Error.Code)}
	}
	return resp.Result, nil
}

// connectionLost tears down after the relay drops the response
// subscription, then drives the reconnect loop when enabled.
func (c *Client) connectionLost() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	c.sub = nil
	closed := c.closed
	c.mu.Unlock()

	c.failPending(CodeConnectionLost)

	if closed || !c.cfg.AutoReconnect {
		return
	}
	go c.reconnect()
}

// reconnect retries with min(base*2^attempt, cap) backoff.
func (c *Client) reconnect() {
	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.cfg.ReconnectBase << uint(attempt)
		if delay > c.cfg.ReconnectCap || delay <= 0 {
			delay = c.cfg.ReconnectCap
		}
		time.Sleep(delay)

		c.mu.Lock()
		if c.closed || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		slog.Debug("nwc: reconnect failed", "attempt", attempt+1, "error", err)
	}
	slog.Warn("nwc: giving up on reconnect",
		"relay", c.desc.Relay, "attempts", c.cfg.MaxReconnectAttempts)
}

func (c *Client) failPending(code string) {
	c.pending.Range(func(key string, call *pendingCall) bool {
		c.pending.Delete(key)
		call.resolve(&response{Error: &remoteError{Code: code}})
		return true
	})
}

// Disconnect cancels all pending calls with ConnectionLost and releases
// the response subscription. The client stays usable: Connect starts a
// fresh session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sub := c.sub
	c.state = StateDisconnected
	c.conn = nil
	c.sub = nil
	c.mu.Unlock()

	c.failPending(CodeConnectionLost)
	if sub != nil {
		sub.Close()
	}
}

// Close disconnects and permanently retires the client.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
	if c.limiter != nil {
		c.limiter.Close()
	}
}

// parseCapabilities splits the info event's space-separated method list.
func parseCapabilities(content string) map[string]bool {
	caps := make(map[string]bool)
	for _, m := range strings.Fields(content) {
		caps[m] = true
	}
	return caps
}

// remote NIP-47 codes are SCREAMING_SNAKE; local codes are CamelCase
func isRemoteCode(code string) bool {
	return code == strings.ToUpper(code)
}
