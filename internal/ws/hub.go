package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans follow events out to stream subscriptions keyed by username.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with the receiving username.
type message struct {
	username string
	payload  []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	username string
	client   Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.username]; !ok {
				h.clients[sub.username] = make(map[Subscriber]struct{})
			}
			h.clients[sub.username][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.username]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.username)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.username]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.username)
				}
			}
		}
	}
}

// Register adds a client to a username's event stream.
func (h *Hub) Register(username string, client Subscriber) {
	h.register <- subscription{username: username, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(username string, client Subscriber) {
	h.unreg <- subscription{username: username, client: client}
}

// Broadcast sends payload to all of the username's subscribers.
func (h *Hub) Broadcast(username string, payload []byte) {
	h.broadcast <- message{username: username, payload: payload}
}
