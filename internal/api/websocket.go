package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/metrics"
)

const (
	// Number of recent events replayed on connection
	recentEventsCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventFilter matches event names against the comma separated prefixes of
// the "events" query parameter, e.g. ?events=plan.,model.updated. An empty
// filter matches everything.
type eventFilter []string

func parseEventFilter(r *http.Request) eventFilter {
	raw := r.URL.Query().Get("events")
	if raw == "" {
		return nil
	}
	var f eventFilter
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f eventFilter) match(name string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// wsEventsHandler streams events to a websocket client: recent events
// first, then every new one.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := events.Subscribe()
	metrics.SetWSClients(events.SubscriberCount())
	defer func() {
		events.Unsubscribe(sub)
		metrics.SetWSClients(events.SubscriberCount())
		conn.Close()
	}()

	send := func(e events.Event) bool {
		if !filter.match(e.Name) {
			return true
		}
		data, err := json.Marshal(e)
		if err != nil {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("ws write event failed: %v", err)
			return false
		}
		return true
	}

	for _, e := range events.RecentEvents(recentEventsCount) {
		if !send(e) {
			return
		}
	}

	done := make(chan struct{})

	// Reader: handles pongs and close frames.
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case e, ok := <-sub:
			if !ok {
				return
			}
			if !send(e) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
