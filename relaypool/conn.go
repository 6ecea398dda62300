package relaypool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"nostr-wallet/nostr"
)

const (
	writeTimeout    = 10 * time.Second
	subChanCapacity = 100
	maxAckTracked   = 512 // OK verdicts kept per connection, oldest evicted
)

var subSerial atomic.Uint64

// Subscription is an active filtered subscription on one relay connection.
// Events are delivered on Events; Done is signalled exactly once when the
// subscription ends, whether through Close or connection loss. The Events
// channel itself is never closed, so consumers must select on Done.
type Subscription struct {
	ID     string
	Filter nostr.Filter
	Events chan nostr.Event
	EOSE   chan struct{}

	done     chan struct{}
	doneOnce sync.Once
	conn     *RelayConn
}

// Done is signalled when the subscription is cancelled or its connection dies.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close cancels the subscription: it unregisters from the bound connection,
// sends CLOSE on the wire (best effort), and signals Done. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.conn.unsubscribe(s)
}

func (s *Subscription) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// RelayConn is one logical websocket session to one relay endpoint. It
// multiplexes any number of subscriptions over the session and serializes
// writes so publishes go out in call order.
type RelayConn struct {
	URL string

	conn     *websocket.Conn
	mu       sync.Mutex
	writeMu  sync.Mutex
	subs     map[string]*Subscription
	acked    map[string]bool
	ackOrder []string
	closed   bool

	lastActivity time.Time
	onClose      func(*RelayConn)
}

func newRelayConn(conn *websocket.Conn, url string, onClose func(*RelayConn)) *RelayConn {
	rc := &RelayConn{
		URL:          url,
		conn:         conn,
		subs:         make(map[string]*Subscription),
		acked:        make(map[string]bool),
		lastActivity: time.Now(),
		onClose:      onClose,
	}
	go rc.readLoop()
	return rc
}

// Publish sends a sealed event to the relay. Unsealed events are rejected
// before touching the wire.
func (rc *RelayConn) Publish(ctx context.Context, ev *nostr.Event) error {
	if !ev.Sealed() {
		return errors.New("refusing to publish unsealed event")
	}
	return rc.writeJSON([]interface{}{"EVENT", ev})
}

// Accepted reports whether the relay has sent OK=true for the given event id.
func (rc *RelayConn) Accepted(id string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.acked[id]
}

// recordAck remembers the relay's OK verdict for an event id, keeping only
// the most recent ids so long-lived sessions do not accumulate acks without
// bound.
func (rc *RelayConn) recordAck(id string, ok bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, seen := rc.acked[id]; !seen {
		rc.ackOrder = append(rc.ackOrder, id)
		if len(rc.ackOrder) > maxAckTracked {
			delete(rc.acked, rc.ackOrder[0])
			rc.ackOrder = rc.ackOrder[1:]
		}
	}
	rc.acked[id] = ok
}

// Subscribe registers a filtered subscription and sends REQ on the wire.
func (rc *RelayConn) Subscribe(ctx context.Context, filter nostr.Filter) (*Subscription, error) {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return nil, errors.New("connection closed")
	}
	sub := &Subscription{
		ID:     fmt.Sprintf("sub-%d", subSerial.Add(1)),
		Filter: filter,
		Events: make(chan nostr.Event, subChanCapacity),
		EOSE:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		conn:   rc,
	}
	rc.subs[sub.ID] = sub
	rc.mu.Unlock()

	if err := rc.writeJSON([]interface{}{"REQ", sub.ID, filter}); err != nil {
		rc.mu.Lock()
		delete(rc.subs, sub.ID)
		rc.mu.Unlock()
		rc.markClosed()
		return nil, err
	}
	return sub, nil
}

func (rc *RelayConn) unsubscribe(sub *Subscription) {
	rc.mu.Lock()
	_, registered := rc.subs[sub.ID]
	sendClose := registered && !rc.closed
	delete(rc.subs, sub.ID)
	rc.mu.Unlock()

	if sendClose {
		// best effort, the connection may already be gone
		_ = rc.writeJSON([]interface{}{"CLOSE", sub.ID})
	}
	sub.signalDone()
}

func (rc *RelayConn) writeJSON(v interface{}) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer rc.conn.SetWriteDeadline(time.Time{})
	return rc.conn.WriteJSON(v)
}

// Closed reports whether the underlying session has been torn down.
func (rc *RelayConn) Closed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

func (rc *RelayConn) idleSince(now time.Time, timeout time.Duration) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.subs) == 0 && now.Sub(rc.lastActivity) > timeout
}

func (rc *RelayConn) touch() {
	rc.mu.Lock()
	rc.lastActivity = time.Now()
	rc.mu.Unlock()
}

// readLoop routes relay frames to subscriptions until the session dies.
func (rc *RelayConn) readLoop() {
	defer rc.markClosed()

	for {
		var msg []interface{}
		if err := rc.conn.ReadJSON(&msg); err != nil {
			if !rc.Closed() {
				slog.Debug("relaypool: read error", "relay", rc.URL, "error", err)
			}
			return
		}
		rc.touch()

		if len(msg) < 2 {
			continue
		}
		frameType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch frameType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			ev, ok := decodeEvent(msg[2])
			if !ok {
				continue
			}
			rc.mu.Lock()
			sub := rc.subs[subID]
			rc.mu.Unlock()
			if sub == nil {
				continue
			}
			select {
			case sub.Events <- ev:
			case <-sub.done:
			default:
				// subscriber is not keeping up, drop
				slog.Debug("relaypool: dropping event, channel full", "relay", rc.URL, "sub", subID)
			}

		case "EOSE":
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			rc.mu.Lock()
			sub := rc.subs[subID]
			rc.mu.Unlock()
			if sub != nil {
				select {
				case sub.EOSE <- struct{}{}:
				default:
				}
			}

		case "CLOSED":
			subID, _ := msg[1].(string)
			rc.mu.Lock()
			sub := rc.subs[subID]
			delete(rc.subs, subID)
			rc.mu.Unlock()
			if sub != nil {
				sub.signalDone()
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			success, _ := msg[2].(bool)
			if eventID != "" {
				rc.recordAck(eventID, success)
			}
			if !success && len(msg) >= 4 {
				reason, _ := msg[3].(string)
				slog.Debug("relaypool: event rejected", "relay", rc.URL, "event_id", eventID, "reason", reason)
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Debug("relaypool: notice", "relay", rc.URL, "notice", notice)
		}
	}
}

// markClosed tears the session down: every bound subscription is signalled
// done and unregistered. Idempotent.
func (rc *RelayConn) markClosed() {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	rc.conn.Close()
	subs := rc.subs
	rc.subs = make(map[string]*Subscription)
	rc.mu.Unlock()

	for _, sub := range subs {
		sub.signalDone()
	}
	if rc.onClose != nil {
		rc.onClose(rc)
	}
}

func decodeEvent(raw interface{}) (nostr.Event, bool) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nostr.Event{}, false
	}
	var ev nostr.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nostr.Event{}, false
	}
	return ev, ev.ID != ""
}
