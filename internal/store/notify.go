package store

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
)

// postsChannel is the NOTIFY channel fed by the posts_notify trigger.
const postsChannel = "posts_changes"

// Change ops as emitted by the trigger (Postgres TG_OP values).
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// ChangeEvent is one row-level change on the posts collection.
type ChangeEvent struct {
	Op         string  `json:"op"`
	ID         string  `json:"id"`
	ReplyingTo *string `json:"replying_to"`
}

// ChangeHandlers receives decoded change events. Handlers are invoked
// one at a time, in delivery order. Delivery order across causally
// related rows is not guaranteed by the transport.
type ChangeHandlers struct {
	OnInsert func(ChangeEvent)
	OnUpdate func(ChangeEvent)
	OnDelete func(ChangeEvent)
}

// SubscribeChanges listens on the posts change channel and dispatches
// events to the handlers until ctx is cancelled or the returned
// unsubscribe func is called.
func (s *Store) SubscribeChanges(ctx context.Context, h ChangeHandlers, logger *log.Logger) (func(), error) {
	listener := pq.NewListener(s.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil && logger != nil {
			logger.Printf("listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(postsChannel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case n := <-listener.Notify:
				if n == nil {
					// reconnect; events during the gap are lost, which the
					// reconciler tolerates per its eventual-consistency gap
					continue
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					if logger != nil {
						logger.Printf("bad change payload %q: %v", n.Extra, err)
					}
					continue
				}
				dispatch(h, ev)
			case <-time.After(90 * time.Second):
				go func() { _ = listener.Ping() }()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

func dispatch(h ChangeHandlers, ev ChangeEvent) {
	switch ev.Op {
	case OpInsert:
		if h.OnInsert != nil {
			h.OnInsert(ev)
		}
	case OpUpdate:
		if h.OnUpdate != nil {
			h.OnUpdate(ev)
		}
	case OpDelete:
		if h.OnDelete != nil {
			h.OnDelete(ev)
		}
	}
}
