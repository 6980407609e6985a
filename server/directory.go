package server

import (
	"context"
	"slices"
	"sync"
	"time"

	"peerchat/db"
	"peerchat/logger"
	"peerchat/models"
	"peerchat/protocol"
)

const persistTimeout = 5 * time.Second

// Pusher delivers events to notification endpoints. Push must not block:
// the directory calls it while holding its lock.
type Pusher interface {
	Push(user string, ep Endpoint, ev models.Event)
	Drop(user string)
}

// Sealer turns client digests into stored password hashes.
type Sealer interface {
	Seal(digest string) (string, error)
	Verify(sealed, digest string) bool
}

// Endpoint is one notification registration. Gen grows with every
// registration, so two registrations of the same address stay distinct.
type Endpoint struct {
	Addr string
	Gen  uint64
}

// Directory owns identities, the friendship graph, pending requests,
// presence and endpoint registrations. Every table is guarded by mu, so
// each operation sees and leaves a consistent snapshot.
type Directory struct {
	mu        sync.RWMutex
	passwords map[string]string
	friends   map[string][]string
	requests  map[string][]string
	presence  map[string]string
	endpoints map[string]Endpoint
	gen       uint64

	store  db.Store
	sealer Sealer
	pusher Pusher
}

func NewDirectory(ctx context.Context, store db.Store, sealer Sealer, pusher Pusher) (*Directory, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	d := &Directory{
		passwords: snap.Passwords,
		friends:   snap.Friends,
		requests:  snap.Requests,
		presence:  make(map[string]string),
		endpoints: make(map[string]Endpoint),
		store:     store,
		sealer:    sealer,
		pusher:    pusher,
	}
	if d.passwords == nil {
		d.passwords = make(map[string]string)
	}
	if d.friends == nil {
		d.friends = make(map[string][]string)
	}
	if d.requests == nil {
		d.requests = make(map[string][]string)
	}
	for user := range d.passwords {
		if d.friends[user] == nil {
			d.friends[user] = []string{}
		}
		if d.requests[user] == nil {
			d.requests[user] = []string{}
		}
	}

	logger.Info("directory loaded", map[string]any{"users": len(d.passwords)})
	return d, nil
}

func (d *Directory) Register(username, digest string) bool {
	if username == "" || digest == "" {
		logger.Warn("register rejected: empty credentials", nil)
		return false
	}

	if d.UserExists(username) {
		logger.Warn("register rejected: user exists", map[string]any{"user": username})
		return false
	}

	sealed, err := d.sealer.Seal(digest)
	if err != nil {
		logger.Error("register failed: seal", map[string]any{"user": username, "error": err})
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// a concurrent Register may have taken the name while sealing
	if _, exists := d.passwords[username]; exists {
		logger.Warn("register rejected: user exists", map[string]any{"user": username})
		return false
	}

	d.passwords[username] = sealed
	d.friends[username] = []string{}
	d.requests[username] = []string{}
	d.persistLocked()

	logger.Info("user registered", map[string]any{"user": username})
	return true
}

func (d *Directory) Login(username, digest, address string) bool {
	d.mu.RLock()
	sealed, ok := d.passwords[username]
	d.mu.RUnlock()

	if !ok || !d.sealer.Verify(sealed, digest) {
		logger.Warn("login failed", map[string]any{"user": username, "address": address})
		return false
	}
	if _, _, err := protocol.SplitAddress(address); err != nil {
		logger.Warn("login rejected: bad address", map[string]any{"user": username, "error": err})
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.presence[username] = address
	logger.Info("login", map[string]any{"user": username, "address": address})

	for _, friend := range d.friends[username] {
		d.pushLocked(friend, models.Event{
			Kind:     models.EventPeerConnected,
			Username: username,
			Address:  address,
		})
	}
	return true
}

func (d *Directory) Logout(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, online := d.presence[username]; !online {
		logger.Warn("logout ignored: not online", map[string]any{"user": username})
		return
	}
	d.goOfflineLocked(username)
	logger.Info("logout", map[string]any{"user": username})
}

// MarkUnreachable takes a user offline after ep stopped answering, unless
// the user has registered again since, even at the same address.
func (d *Directory) MarkUnreachable(username string, ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.endpoints[username]; !ok || current != ep {
		logger.Debug("stale unreachable report ignored", map[string]any{"user": username, "endpoint": ep.Addr, "gen": ep.Gen})
		return
	}
	d.goOfflineLocked(username)
	logger.Warn("endpoint unreachable, user marked offline", map[string]any{"user": username, "endpoint": ep.Addr})
}

func (d *Directory) goOfflineLocked(username string) {
	for _, friend := range d.friends[username] {
		d.pushLocked(friend, models.Event{Kind: models.EventPeerDisconnected, Username: username})
	}
	delete(d.presence, username)
	delete(d.endpoints, username)
	d.pusher.Drop(username)
}

// RequestFriendship records a pending edge from -> to. It reports whether a
// new edge was inserted; every rejection is a logged no-op.
func (d *Directory) RequestFriendship(from, to string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, fromExists := d.passwords[from]
	_, toExists := d.passwords[to]
	switch {
	case !fromExists || !toExists:
		logger.Warn("friend request ignored: unknown user", map[string]any{"from": from, "to": to})
		return false
	case from == to:
		logger.Warn("friend request ignored: self", map[string]any{"user": from})
		return false
	case slices.Contains(d.friends[from], to):
		logger.Warn("friend request ignored: already friends", map[string]any{"from": from, "to": to})
		return false
	case slices.Contains(d.requests[to], from):
		logger.Debug("friend request ignored: duplicate", map[string]any{"from": from, "to": to})
		return false
	}

	d.requests[to] = append(d.requests[to], from)
	d.persistLocked()
	logger.Info("friend request", map[string]any{"from": from, "to": to})

	d.pushLocked(to, models.Event{Kind: models.EventFriendRequestReceived, Username: from})
	return true
}

// AcceptFriendRequest turns the pending edge requester -> user into a
// friendship. A crossing request user -> requester is cleared too.
func (d *Directory) AcceptFriendRequest(user, requester string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !slices.Contains(d.requests[user], requester) {
		logger.Warn("accept failed: no pending request", map[string]any{"user": user, "requester": requester})
		return false
	}

	d.requests[user] = remove(d.requests[user], requester)
	d.requests[requester] = remove(d.requests[requester], user)
	if !slices.Contains(d.friends[user], requester) {
		d.friends[user] = append(d.friends[user], requester)
	}
	if !slices.Contains(d.friends[requester], user) {
		d.friends[requester] = append(d.friends[requester], user)
	}
	d.persistLocked()
	logger.Info("friendship accepted", map[string]any{"user": user, "requester": requester})

	d.pushLocked(user, models.Event{Kind: models.EventFriendshipAccepted, Username: requester})
	d.pushLocked(requester, models.Event{Kind: models.EventFriendshipAccepted, Username: user})
	return true
}

func (d *Directory) RejectFriendRequest(user, requester string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !slices.Contains(d.requests[user], requester) {
		logger.Warn("reject failed: no pending request", map[string]any{"user": user, "requester": requester})
		return false
	}

	d.requests[user] = remove(d.requests[user], requester)
	d.persistLocked()
	logger.Info("friend request rejected", map[string]any{"user": user, "requester": requester})
	return true
}

func (d *Directory) PendingRequests(user string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.requests[user])
}

func (d *Directory) Friends(user string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.friends[user])
}

func (d *Directory) OnlineFriends(user string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var online []string
	for _, friend := range d.friends[user] {
		if _, ok := d.presence[friend]; ok {
			online = append(online, friend)
		}
	}
	return online
}

func (d *Directory) ResolveAddress(user string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.presence[user]
	return addr, ok
}

func (d *Directory) UserExists(user string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.passwords[user]
	return ok
}

// RegisterEndpoint records where pushes for user go. Only users with a
// presence entry may register.
func (d *Directory) RegisterEndpoint(user, handle string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, online := d.presence[user]; !online {
		logger.Warn("endpoint rejected: not online", map[string]any{"user": user})
		return false
	}
	if _, _, err := protocol.SplitAddress(handle); err != nil {
		logger.Warn("endpoint rejected: bad handle", map[string]any{"user": user, "error": err})
		return false
	}

	// the previous registration's queue may still be retrying
	if _, ok := d.endpoints[user]; ok {
		d.pusher.Drop(user)
	}
	d.gen++
	d.endpoints[user] = Endpoint{Addr: handle, Gen: d.gen}
	logger.Info("endpoint registered", map[string]any{"user": user, "endpoint": handle, "gen": d.gen})
	return true
}

func (d *Directory) UnregisterEndpoint(user string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.endpoints[user]; !ok {
		return
	}
	delete(d.endpoints, user)
	d.pusher.Drop(user)
	logger.Info("endpoint removed", map[string]any{"user": user})
}

type Stats struct {
	Registered int      `json:"registered"`
	Online     []string `json:"online"`
	Endpoints  int      `json:"endpoints"`
}

func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	online := make([]string, 0, len(d.presence))
	for user := range d.presence {
		online = append(online, user)
	}
	slices.Sort(online)

	return Stats{
		Registered: len(d.passwords),
		Online:     online,
		Endpoints:  len(d.endpoints),
	}
}

func (d *Directory) pushLocked(user string, ev models.Event) {
	ep, ok := d.endpoints[user]
	if !ok {
		return
	}
	d.pusher.Push(user, ep, ev)
}

// persistLocked writes a full snapshot. A failed save is logged and the
// in-memory change stands.
func (d *Directory) persistLocked() {
	snap := models.Snapshot{
		Passwords: d.passwords,
		Friends:   d.friends,
		Requests:  d.requests,
	}.Clone()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := d.store.Save(ctx, snap); err != nil {
		logger.Error("persist snapshot failed", map[string]any{"error": err})
	}
}

func remove(list []string, value string) []string {
	return slices.DeleteFunc(slices.Clone(list), func(s string) bool { return s == value })
}
