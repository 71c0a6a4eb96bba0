package relay

import "sort"

// Room is the set of participants connected under one room id.
type Room struct {
	// ID is the unique identifier for the room.
	ID string

	// Host is the current host username, empty when the room has none.
	Host string

	// clients in join order.
	clients []*Client
}

func (r *Room) add(c *Client) {
	r.clients = append(r.clients, c)
}

func (r *Room) remove(c *Client) bool {
	for i, existing := range r.clients {
		if existing == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return true
		}
	}
	return false
}

// Users returns usernames in join order.
func (r *Room) Users() []string {
	users := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		users = append(users, c.User)
	}
	return users
}

func (r *Room) byUser(name string) *Client {
	for _, c := range r.clients {
		if c.User == name {
			return c
		}
	}
	return nil
}

// successor returns the lexicographically smallest remaining username.
func (r *Room) successor() string {
	users := r.Users()
	if len(users) == 0 {
		return ""
	}
	sort.Strings(users)
	return users[0]
}

func (r *Room) empty() bool { return len(r.clients) == 0 }
