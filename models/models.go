package models

// Snapshot is the full persisted state of the directory.
// Requests is keyed by target; each list holds requesters in arrival order.
type Snapshot struct {
	Passwords map[string]string
	Friends   map[string][]string
	Requests  map[string][]string
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Passwords: make(map[string]string),
		Friends:   make(map[string][]string),
		Requests:  make(map[string][]string),
	}
}

// Clone returns a deep copy so a store never shares slices with the directory.
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot()
	for user, hash := range s.Passwords {
		out.Passwords[user] = hash
	}
	for user, list := range s.Friends {
		out.Friends[user] = append([]string(nil), list...)
	}
	for user, list := range s.Requests {
		out.Requests[user] = append([]string(nil), list...)
	}
	return out
}

type EventKind string

const (
	EventPeerConnected         EventKind = "peer_connected"
	EventPeerDisconnected      EventKind = "peer_disconnected"
	EventFriendRequestReceived EventKind = "friend_request_received"
	EventFriendshipAccepted    EventKind = "friendship_accepted"
)

// Event is a push notification from the directory to one client.
// Address is only set for EventPeerConnected.
type Event struct {
	Kind     EventKind
	Username string
	Address  string
}
