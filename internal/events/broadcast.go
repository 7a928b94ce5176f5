package events

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/askid/voicecore/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Broadcaster upgrades incoming HTTP connections to websockets and
// relays every Bus event to them as JSON frames.
type Broadcaster struct {
	bus  *Bus
	mu   sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewBroadcaster(bus *Bus) *Broadcaster {
	return &Broadcaster{bus: bus, conns: map[*websocket.Conn]struct{}{}}
}

// ServeHTTP upgrades the connection and streams events to it until the
// client disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logging.Component("events.broadcast")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
	}()

	ch, unsubscribe := b.bus.Subscribe(32)
	defer unsubscribe()

	for msg := range ch {
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("websocket write failed, closing")
			return
		}
	}
}
