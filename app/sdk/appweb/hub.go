package appweb

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jroedel/thermostat/business/busthermostat"
)

var upgrader = websocket.Upgrader{} // use default options

// Hub fans status snapshots out to every connected websocket client and
// accepts settings changes back from them.
type Hub struct {
	l Logger

	mu      sync.Mutex
	streams []*websocket.Conn
	//settings changes received over the socket are handed to apply
	apply func(busthermostat.SettingsPatch) (busthermostat.Status, error)
}

func NewHub(l Logger) *Hub {
	return &Hub{l: l}
}

// BindApplier connects incoming settings requests to the control loop.
// Until it's called, client writes are ignored.
func (h *Hub) BindApplier(apply func(busthermostat.SettingsPatch) (busthermostat.Status, error)) {
	h.mu.Lock()
	h.apply = apply
	h.mu.Unlock()
}

// Broadcast pushes a status snapshot to every connected client, dropping
// the streams that have gone away.
func (h *Hub) Broadcast(status busthermostat.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	deadstreams := []int{}
	for i, cs := range h.streams {
		if err := cs.WriteJSON(status); err != nil {
			deadstreams = append(deadstreams, i)
		}
	}
	// remove dead streams now
	for i := len(deadstreams) - 1; i > -1; i-- {
		idx := deadstreams[i]
		h.streams[idx].Close()
		h.streams = append(h.streams[:idx], h.streams[idx+1:]...)
	}
}

// ServeWs upgrades the connection, sends the current status if an applier
// is bound, and starts the read pump for incoming settings changes.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Printf("upgrade failure: %s", err)
		return
	}

	h.mu.Lock()
	h.streams = append(h.streams, c)
	h.mu.Unlock()

	// websocket reader closure.
	// Handles settings requests from the client.
	go func() {
		for {
			var patch busthermostat.SettingsPatch
			if err := c.ReadJSON(&patch); err != nil {
				h.l.Printf("Disconnecting client: %s", err)
				break
			}
			h.mu.Lock()
			apply := h.apply
			h.mu.Unlock()
			if apply == nil {
				continue
			}
			if _, err := apply(patch); err != nil {
				//tell just this client why the change was refused
				c.WriteJSON(ApiMessage{Status: NOK, Message: err.Error()})
			}
		}
		h.drop(c)
	}()
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cs := range h.streams {
		if cs == c {
			h.streams = append(h.streams[:i], h.streams[i+1:]...)
			break
		}
	}
	c.Close()
}
