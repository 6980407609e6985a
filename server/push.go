package server

import (
	"context"
	"fmt"
	"net/rpc"
	"sync"
	"time"

	"peerchat/logger"
	"peerchat/models"
	"peerchat/protocol"
)

// Sender performs one notification call against an endpoint.
type Sender interface {
	Send(ctx context.Context, addr string, ev models.Event) error
	Forget(addr string)
}

type DispatcherConfig struct {
	QueueSize int
	Retries   int
	Backoff   time.Duration
	Timeout   time.Duration
}

// Dispatcher fans events out through one FIFO queue and worker per
// recipient. A recipient whose endpoint fails every retry of a delivery is
// reported through the unreachable handler and its queue is discarded.
type Dispatcher struct {
	sender Sender
	cfg    DispatcherConfig

	mu          sync.Mutex
	outboxes    map[string]*outbox
	unreachable func(user string, ep Endpoint)
	closed      bool
	wg          sync.WaitGroup
}

type outbox struct {
	user   string
	ep     Endpoint
	events chan models.Event
	done   chan struct{}
}

func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:   sender,
		cfg:      cfg,
		outboxes: make(map[string]*outbox),
	}
}

// OnUnreachable sets the handler called after a delivery exhausts its retries.
func (d *Dispatcher) OnUnreachable(fn func(user string, ep Endpoint)) {
	d.mu.Lock()
	d.unreachable = fn
	d.mu.Unlock()
}

// Push queues ev for user at ep without blocking. A full queue drops ev. A
// different ep retires the queue of the previous one.
func (d *Dispatcher) Push(user string, ep Endpoint, ev models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	box := d.outboxes[user]
	if box != nil && box.ep != ep {
		close(box.done)
		box = nil
	}
	if box == nil {
		box = &outbox{
			user:   user,
			ep:     ep,
			events: make(chan models.Event, d.cfg.QueueSize),
			done:   make(chan struct{}),
		}
		d.outboxes[user] = box
		d.wg.Add(1)
		go d.run(box)
	}

	select {
	case box.events <- ev:
	default:
		logger.Warn("push queue full, event dropped", map[string]any{
			"user":  user,
			"event": string(ev.Kind),
		})
	}
}

// Drop discards user's queue. Events not yet delivered are lost.
func (d *Dispatcher) Drop(user string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if box, ok := d.outboxes[user]; ok {
		close(box.done)
		delete(d.outboxes, user)
	}
}

// Queues reports how many recipients have a live queue.
func (d *Dispatcher) Queues() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outboxes)
}

func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for user, box := range d.outboxes {
			close(box.done)
			delete(d.outboxes, user)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(box *outbox) {
	defer d.wg.Done()
	for {
		select {
		case <-box.done:
			return
		default:
		}

		select {
		case <-box.done:
			return
		case ev := <-box.events:
			if !d.deliver(box, ev) {
				d.fail(box)
				return
			}
		}
	}
}

// deliver returns false only when every attempt failed at the transport level.
// A call that timed out may still have run on the endpoint, so a retry can
// deliver ev twice; sessions ignore presence events that change nothing.
func (d *Dispatcher) deliver(box *outbox, ev models.Event) bool {
	backoff := d.cfg.Backoff
	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		err := d.sender.Send(ctx, box.ep.Addr, ev)
		cancel()

		if err == nil {
			logger.Debug("push delivered", map[string]any{"user": box.user, "event": string(ev.Kind)})
			return true
		}
		if protocol.IsRemoteError(err) {
			logger.Warn("push rejected by endpoint", map[string]any{"user": box.user, "event": string(ev.Kind), "error": err})
			return true
		}

		logger.Warn("push failed", map[string]any{
			"user":    box.user,
			"event":   string(ev.Kind),
			"attempt": attempt,
			"error":   err,
		})
		if attempt == d.cfg.Retries {
			break
		}
		select {
		case <-box.done:
			return true
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return false
}

// fail reports box's endpoint. A retired box still reports; the handler
// compares generations and ignores it.
func (d *Dispatcher) fail(box *outbox) {
	d.mu.Lock()
	current := d.outboxes[box.user] == box
	if current {
		close(box.done)
		delete(d.outboxes, box.user)
	}
	handler := d.unreachable
	d.mu.Unlock()

	if current {
		d.sender.Forget(box.ep.Addr)
	}
	if handler != nil {
		handler(box.user, box.ep)
	}
}

// RPCSender calls the Notify service over net/rpc, keeping one client per endpoint.
type RPCSender struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

func NewRPCSender(timeout time.Duration) *RPCSender {
	return &RPCSender{
		timeout: timeout,
		clients: make(map[string]*rpc.Client),
	}
}

func (s *RPCSender) Send(ctx context.Context, addr string, ev models.Event) error {
	client, err := s.client(ctx, addr)
	if err != nil {
		return err
	}

	var (
		method string
		args   any
		reply  protocol.BoolReply
	)
	switch ev.Kind {
	case models.EventPeerConnected:
		method, args = protocol.MethodPeerConnected, protocol.PeerConnectedArgs{Username: ev.Username, Address: ev.Address}
	case models.EventPeerDisconnected:
		method, args = protocol.MethodPeerDisconnected, protocol.UserArgs{Username: ev.Username}
	case models.EventFriendRequestReceived:
		method, args = protocol.MethodFriendRequestReceived, protocol.UserArgs{Username: ev.Username}
	case models.EventFriendshipAccepted:
		method, args = protocol.MethodFriendshipAccepted, protocol.UserArgs{Username: ev.Username}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	err = protocol.Call(ctx, client, method, args, &reply)
	if err != nil && !protocol.IsRemoteError(err) {
		s.Forget(addr)
	}
	return err
}

func (s *RPCSender) client(ctx context.Context, addr string) (*rpc.Client, error) {
	s.mu.Lock()
	client, ok := s.clients[addr]
	s.mu.Unlock()
	if ok {
		return client, nil
	}

	client, err := protocol.Dial(ctx, addr, s.timeout)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[addr]; ok {
		client.Close()
		return existing, nil
	}
	s.clients[addr] = client
	return client, nil
}

func (s *RPCSender) Forget(addr string) {
	s.mu.Lock()
	client, ok := s.clients[addr]
	delete(s.clients, addr)
	s.mu.Unlock()
	if ok {
		client.Close()
	}
}

func (s *RPCSender) Close() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*rpc.Client)
	s.mu.Unlock()
	for _, client := range clients {
		client.Close()
	}
}
