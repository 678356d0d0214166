package relay

// Room is one swarm namespace. Every client in it may subscribe to topics
// and publish to the other members.
type Room struct {
	ID string

	// Clients holds every member of the room.
	Clients map[*Client]bool

	// Topics maps a topic to its subscribers.
	Topics map[string]map[*Client]bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		Clients: make(map[*Client]bool),
		Topics:  make(map[string]map[*Client]bool),
	}
}

func (r *Room) subscribe(c *Client, topic string) {
	subs, ok := r.Topics[topic]
	if !ok {
		subs = make(map[*Client]bool)
		r.Topics[topic] = subs
	}
	subs[c] = true
}

// remove drops c from the room and all of its topics.
func (r *Room) remove(c *Client) {
	delete(r.Clients, c)
	for topic, subs := range r.Topics {
		delete(subs, c)
		if len(subs) == 0 {
			delete(r.Topics, topic)
		}
	}
}

func (r *Room) empty() bool {
	return len(r.Clients) == 0
}
