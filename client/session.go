// Package client is the user side of peerchat: it authenticates against the
// directory, serves the Notify and Inbox services on a local rpc host and
// keeps one chat per online friend.
package client

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"peerchat/credentials"
	"peerchat/logger"
	"peerchat/models"
	"peerchat/peer"
	"peerchat/protocol"
)

var (
	ErrNotStarted      = errors.New("session not started")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrNoChat          = errors.New("no chat with user")
	// ErrEndpointRejected means the credentials were accepted but the
	// directory refused this session's notification endpoint.
	ErrEndpointRejected = errors.New("notification endpoint rejected")
)

type Config struct {
	DirectoryAddr string
	// Host is both the bind host and the host advertised to peers.
	Host          string
	Port          int
	InboxCapacity int
	CallTimeout   time.Duration
}

type chatEntry struct {
	chat *peer.Chat
	done chan struct{}
}

type Session struct {
	cfg      Config
	registry *peer.Registry
	host     *peer.Host
	dir      *DirectoryClient
	address  string

	mu       sync.RWMutex
	username string
	loggedIn bool
	chats    map[string]*chatEntry
	handlers []func(models.Event)
}

func NewSession(cfg Config) *Session {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Session{
		cfg:      cfg,
		registry: peer.NewRegistry(),
		chats:    make(map[string]*chatEntry),
	}
}

// Start brings up the local rpc host and connects to the directory.
func (s *Session) Start(ctx context.Context) error {
	host, err := peer.NewHost(s.registry)
	if err != nil {
		return err
	}
	if err := host.RegisterName(protocol.NotifyService, &NotifyService{session: s}); err != nil {
		return err
	}
	if err := host.Start(protocol.JoinAddress(s.cfg.Host, s.cfg.Port)); err != nil {
		return err
	}

	dir, err := DialDirectory(ctx, s.cfg.DirectoryAddr, s.cfg.CallTimeout)
	if err != nil {
		host.Close()
		return err
	}

	s.host = host
	s.dir = dir
	s.address = protocol.JoinAddress(s.cfg.Host, host.Port())
	logger.Info("session started", map[string]any{"address": s.address, "directory": s.cfg.DirectoryAddr})
	return nil
}

// Address is where peers and the directory reach this session.
func (s *Session) Address() string {
	return s.address
}

// Close logs out if needed and stops the local host.
func (s *Session) Close() error {
	if s.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
		if err := s.Logout(ctx); err != nil {
			logger.Warn("logout on close failed", map[string]any{"error": err})
		}
		cancel()
	}

	var errs []error
	if s.host != nil {
		errs = append(errs, s.host.Close())
	}
	if s.dir != nil {
		errs = append(errs, s.dir.Close())
	}
	return errors.Join(errs...)
}

func (s *Session) directory() (*DirectoryClient, error) {
	if s.dir == nil {
		return nil, ErrNotStarted
	}
	return s.dir, nil
}

func (s *Session) Register(ctx context.Context, username, password string) (bool, error) {
	dir, err := s.directory()
	if err != nil {
		return false, err
	}
	return dir.Register(ctx, username, credentials.Digest(password))
}

// Login authenticates, registers this session's Notify endpoint and opens
// chats with every friend already online. A failed endpoint registration
// undoes the login and returns ErrEndpointRejected unless the call itself
// failed.
func (s *Session) Login(ctx context.Context, username, password string) (bool, error) {
	dir, err := s.directory()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.loggedIn {
		s.mu.Unlock()
		return false, ErrAlreadyLoggedIn
	}
	s.mu.Unlock()

	ok, err := dir.Login(ctx, username, credentials.Digest(password), s.address)
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	s.username = username
	s.loggedIn = true
	s.mu.Unlock()

	ok, err = dir.RegisterEndpoint(ctx, username, s.address)
	if err == nil && !ok {
		err = ErrEndpointRejected
	}
	if err != nil {
		logger.Warn("endpoint registration failed, logging out", map[string]any{"user": username, "error": err})
		if logoutErr := dir.Logout(ctx, username); logoutErr != nil {
			logger.Warn("logout after failed registration", map[string]any{"user": username, "error": logoutErr})
		}
		s.reset()
		return false, err
	}

	logger.Info("logged in", map[string]any{"user": username, "address": s.address})

	online, err := dir.OnlineFriends(ctx, username)
	if err != nil {
		logger.Warn("listing online friends failed", map[string]any{"user": username, "error": err})
		return true, nil
	}
	for _, friend := range online {
		addr, found, err := dir.ResolveAddress(ctx, friend)
		if err != nil || !found {
			continue
		}
		s.openChat(friend, addr)
	}
	return true, nil
}

// Logout withdraws the notification endpoint, then the presence entry, so
// no push is queued for a session that is going away.
func (s *Session) Logout(ctx context.Context) error {
	user, err := s.current()
	if err != nil {
		return err
	}
	unregErr := s.dir.UnregisterEndpoint(ctx, user)
	if unregErr != nil {
		logger.Warn("unregister endpoint failed", map[string]any{"user": user, "error": unregErr})
	}
	err = s.dir.Logout(ctx, user)
	s.reset()
	logger.Info("logged out", map[string]any{"user": user})
	return errors.Join(unregErr, err)
}

// reset closes every chat and forgets the logged in user.
func (s *Session) reset() {
	s.mu.Lock()
	chats := s.chats
	s.chats = make(map[string]*chatEntry)
	s.username = ""
	s.loggedIn = false
	s.mu.Unlock()

	for _, entry := range chats {
		closeEntry(entry)
	}
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

func (s *Session) current() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loggedIn {
		return "", ErrNotLoggedIn
	}
	return s.username, nil
}

// OnEvent registers fn for every pushed event, called after the session has
// updated its chats.
func (s *Session) OnEvent(fn func(models.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

func (s *Session) handleEvent(ev models.Event) {
	if !s.IsConnected() {
		logger.Debug("event ignored: not logged in", map[string]any{"event": string(ev.Kind)})
		return
	}

	switch ev.Kind {
	case models.EventPeerConnected:
		if !s.openChat(ev.Username, ev.Address) {
			logger.Debug("repeated peer connected ignored", map[string]any{"peer": ev.Username})
			return
		}
	case models.EventPeerDisconnected:
		if !s.closeChat(ev.Username) {
			logger.Debug("repeated peer disconnected ignored", map[string]any{"peer": ev.Username})
			return
		}
	case models.EventFriendRequestReceived:
		logger.Info("friend request received", map[string]any{"from": ev.Username})
	case models.EventFriendshipAccepted:
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
		addr, online, err := s.dir.ResolveAddress(ctx, ev.Username)
		cancel()
		switch {
		case err != nil:
			logger.Warn("resolve new friend failed", map[string]any{"friend": ev.Username, "error": err})
		case online:
			ev.Address = addr
			s.openChat(ev.Username, addr)
		}
	}

	s.mu.RLock()
	handlers := slices.Clone(s.handlers)
	s.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// openChat creates the chat with correspondent at addr unless one already
// exists for that address. A chat for a stale address is replaced. It
// reports whether a chat was created.
func (s *Session) openChat(correspondent, addr string) bool {
	var stale *chatEntry
	defer func() {
		if stale != nil {
			closeEntry(stale)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedIn || correspondent == s.username {
		return false
	}
	if entry, ok := s.chats[correspondent]; ok {
		if sameAddress(entry.chat.Address(), addr) {
			return false
		}
		stale = entry
		delete(s.chats, correspondent)
	}

	chat, err := peer.NewChat(s.username, correspondent, addr, s.registry, s.cfg.InboxCapacity, s.cfg.CallTimeout)
	if err != nil {
		logger.Warn("chat not created", map[string]any{"correspondent": correspondent, "address": addr, "error": err})
		return false
	}
	s.chats[correspondent] = &chatEntry{chat: chat, done: make(chan struct{})}
	return true
}

func (s *Session) closeChat(correspondent string) bool {
	s.mu.Lock()
	entry, ok := s.chats[correspondent]
	delete(s.chats, correspondent)
	s.mu.Unlock()

	if ok {
		closeEntry(entry)
		logger.Info("chat closed", map[string]any{"correspondent": correspondent})
	}
	return ok
}

func closeEntry(entry *chatEntry) {
	close(entry.done)
	entry.chat.Close()
}

func sameAddress(a, b string) bool {
	ah, ap, err := protocol.SplitAddress(a)
	if err != nil {
		return false
	}
	bh, bp, err := protocol.SplitAddress(b)
	if err != nil {
		return false
	}
	return ah == bh && ap == bp
}

func (s *Session) entry(contact string) (*chatEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loggedIn {
		return nil, ErrNotLoggedIn
	}
	entry, ok := s.chats[contact]
	if !ok {
		return nil, ErrNoChat
	}
	return entry, nil
}

// SendMessage pushes text into contact's inbox for us. peer.ErrPeerNotReady
// means contact has not opened its side of the chat yet.
func (s *Session) SendMessage(ctx context.Context, contact, text string) error {
	entry, err := s.entry(contact)
	if err != nil {
		return err
	}
	return entry.chat.Send(ctx, text)
}

// NewMessages drains the messages received from contact.
func (s *Session) NewMessages(contact string) ([]string, error) {
	entry, err := s.entry(contact)
	if err != nil {
		return nil, err
	}
	return entry.chat.Drain(), nil
}

// CheckNewMessages counts waiting messages per active chat.
func (s *Session) CheckNewMessages() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(s.chats))
	for contact, entry := range s.chats {
		counts[contact] = entry.chat.Inbox().Len()
	}
	return counts
}

// WaitMessage blocks until contact sends a message, ctx ends or the chat is
// closed (peer.ErrClosed).
func (s *Session) WaitMessage(ctx context.Context, contact string) (string, error) {
	entry, err := s.entry(contact)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-entry.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	msg, err := entry.chat.Receive(ctx)
	if err != nil {
		select {
		case <-entry.done:
			return "", peer.ErrClosed
		default:
		}
	}
	return msg, err
}

func (s *Session) ActiveChats() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.chats))
	for name := range s.chats {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SearchUsers matches query exactly against registered users, excluding self.
func (s *Session) SearchUsers(ctx context.Context, query string) ([]string, error) {
	user, err := s.current()
	if err != nil {
		return nil, err
	}
	if query == "" || query == user {
		return nil, nil
	}
	exists, err := s.dir.UserExists(ctx, query)
	if err != nil || !exists {
		return nil, err
	}
	return []string{query}, nil
}

func (s *Session) Friends(ctx context.Context) ([]string, error) {
	user, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.dir.Friends(ctx, user)
}

func (s *Session) OnlineFriends(ctx context.Context) ([]string, error) {
	user, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.dir.OnlineFriends(ctx, user)
}

func (s *Session) SendFriendRequest(ctx context.Context, to string) (bool, error) {
	user, err := s.current()
	if err != nil {
		return false, err
	}
	return s.dir.RequestFriendship(ctx, user, to)
}

func (s *Session) PendingFriendRequests(ctx context.Context) ([]string, error) {
	user, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.dir.PendingRequests(ctx, user)
}

// AcceptFriendRequest accepts requester's pending request. The chat opens
// when the directory pushes friendshipAccepted.
func (s *Session) AcceptFriendRequest(ctx context.Context, requester string) (bool, error) {
	user, err := s.current()
	if err != nil {
		return false, err
	}
	return s.dir.AcceptFriendRequest(ctx, user, requester)
}

func (s *Session) RejectFriendRequest(ctx context.Context, requester string) (bool, error) {
	user, err := s.current()
	if err != nil {
		return false, err
	}
	return s.dir.RejectFriendRequest(ctx, user, requester)
}
