// Package relaytest provides an in-process relay speaking just enough of the
// wire protocol for tests: REQ/CLOSE subscription management, EVENT publish
// with OK acks, and broadcast of injected events to matching subscribers.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"nostr-wallet/nostr"
)

type clientSub struct {
	id     string
	filter nostr.Filter
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]*clientSub
}

func (c *client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Relay is a fake relay bound to an httptest server.
type Relay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	clients   map[*client]struct{}
	published []nostr.Event
	stored    []nostr.Event

	// OnEvent, when set, is invoked for every published event. Responders
	// (fake wallets) use it to inject correlated replies via Broadcast.
	OnEvent func(ev nostr.Event)

	// AcceptEvents controls the OK ack; false makes the relay reject
	// everything.
	AcceptEvents bool
}

// New starts a fake relay.
func New() *Relay {
	r := &Relay{
		clients:      make(map[*client]struct{}),
		AcceptEvents: true,
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

// URL returns the ws:// endpoint of the relay.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

// Close shuts the relay down.
func (r *Relay) Close() {
	r.mu.Lock()
	for c := range r.clients {
		c.conn.Close()
	}
	r.clients = make(map[*client]struct{})
	r.mu.Unlock()
	r.server.Close()
}

// ClientCount returns the number of websocket sessions currently open.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Published returns a copy of every event the relay accepted.
func (r *Relay) Published() []nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]nostr.Event, len(r.published))
	copy(out, r.published)
	return out
}

// Store adds an event to the relay's backlog; matching events are replayed
// to new subscriptions before EOSE, the way a real relay serves stored
// events.
func (r *Relay) Store(ev nostr.Event) {
	r.mu.Lock()
	r.stored = append(r.stored, ev)
	r.mu.Unlock()
}

// Broadcast delivers an event to every subscription whose filter matches.
func (r *Relay) Broadcast(ev nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		for _, sub := range c.subs {
			if sub.filter.Matches(&ev) {
				c.send([]interface{}{"EVENT", sub.id, ev})
				break
			}
		}
	}
}

func (r *Relay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, subs: make(map[string]*clientSub)}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) < 2 {
			continue
		}
		var frameType string
		if err := json.Unmarshal(msg[0], &frameType); err != nil {
			continue
		}

		switch frameType {
		case "REQ":
			if len(msg) < 3 {
				continue
			}
			var subID string
			if err := json.Unmarshal(msg[1], &subID); err != nil {
				continue
			}
			var filter nostr.Filter
			if err := json.Unmarshal(msg[2], &filter); err != nil {
				continue
			}
			r.mu.Lock()
			c.subs[subID] = &clientSub{id: subID, filter: filter}
			backlog := make([]nostr.Event, 0, len(r.stored))
			for _, ev := range r.stored {
				if filter.Matches(&ev) {
					backlog = append(backlog, ev)
				}
			}
			r.mu.Unlock()
			for _, ev := range backlog {
				c.send([]interface{}{"EVENT", subID, ev})
			}
			c.send([]interface{}{"EOSE", subID})

		case "CLOSE":
			var subID string
			if err := json.Unmarshal(msg[1], &subID); err != nil {
				continue
			}
			r.mu.Lock()
			delete(c.subs, subID)
			r.mu.Unlock()

		case "EVENT":
			var ev nostr.Event
			if err := json.Unmarshal(msg[1], &ev); err != nil {
				continue
			}
			r.mu.Lock()
			accept := r.AcceptEvents
			if accept {
				r.published = append(r.published, ev)
			}
			onEvent := r.OnEvent
			r.mu.Unlock()

			if accept {
				c.send([]interface{}{"OK", ev.ID, true, ""})
				if onEvent != nil {
					go onEvent(ev)
				}
			} else {
				c.send([]interface{}{"OK", ev.ID, false, "blocked"})
			}
		}
	}
}
