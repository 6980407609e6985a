package peer

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"sync"
	"time"

	"peerchat/logger"
	"peerchat/protocol"
)

var (
	// ErrPeerNotReady means the correspondent's host answered but has no
	// inbox bound under our name yet, or re-created it since our handshake.
	ErrPeerNotReady = errors.New("peer not ready")
	// ErrPeerUnreachable means the correspondent's host could not be dialed
	// or the connection broke mid call.
	ErrPeerUnreachable = errors.New("peer unreachable")
	ErrClosed          = errors.New("chat closed")
)

// RemoteInbox is an outbound handle to the inbox a correspondent hosts for us.
type RemoteInbox struct {
	client    *rpc.Client
	name      string
	channelID string
}

// Resolve dials addr and handshakes for the inbox bound under name.
func Resolve(ctx context.Context, addr, name string, timeout time.Duration) (*RemoteInbox, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := protocol.Dial(ctx, addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrPeerUnreachable, addr, err)
	}

	var reply protocol.HandshakeReply
	if err := protocol.Call(ctx, client, protocol.MethodHandshake, protocol.InboxArgs{Name: name}, &reply); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: handshake %s: %v", ErrPeerUnreachable, addr, err)
	}
	if !reply.Ready {
		client.Close()
		return nil, fmt.Errorf("%w: %s has no inbox for %q", ErrPeerNotReady, addr, name)
	}

	return &RemoteInbox{client: client, name: name, channelID: reply.ChannelID}, nil
}

func (r *RemoteInbox) ChannelID() string { return r.channelID }

func (r *RemoteInbox) args(message string) protocol.InboxArgs {
	return protocol.InboxArgs{Name: r.name, ChannelID: r.channelID, Message: message}
}

func (r *RemoteInbox) Push(ctx context.Context, message string) (string, error) {
	var reply protocol.MessageReply
	err := protocol.Call(ctx, r.client, protocol.MethodPush, r.args(message), &reply)
	return reply.Message, classify(err)
}

func (r *RemoteInbox) Pop(ctx context.Context) (string, bool, error) {
	var reply protocol.MessageReply
	err := protocol.Call(ctx, r.client, protocol.MethodPop, r.args(""), &reply)
	return reply.Message, reply.Found, classify(err)
}

func (r *RemoteInbox) Get(ctx context.Context) (string, bool, error) {
	var reply protocol.MessageReply
	err := protocol.Call(ctx, r.client, protocol.MethodGet, r.args(""), &reply)
	return reply.Message, reply.Found, classify(err)
}

func (r *RemoteInbox) Close() error {
	return r.client.Close()
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case protocol.IsRemoteError(err):
		// the host is up but the binding is gone or was replaced
		return fmt.Errorf("%w: %v", ErrPeerNotReady, err)
	default:
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
}

// Chat pairs the local inbox for one correspondent with a lazily resolved
// handle to the correspondent's inbox for us. Both sides must create a Chat
// for the pair before either can send.
type Chat struct {
	local         string
	correspondent string
	host          string
	port          int
	timeout       time.Duration

	registry *Registry
	inbox    *Inbox

	mu       sync.Mutex
	outbound *RemoteInbox
	closed   bool
}

// NewChat binds a fresh inbox under correspondent's name in registry.
// address is where the correspondent's host listens.
func NewChat(local, correspondent, address string, registry *Registry, capacity int, timeout time.Duration) (*Chat, error) {
	host, port, err := protocol.SplitAddress(address)
	if err != nil {
		return nil, err
	}

	c := &Chat{
		local:         local,
		correspondent: correspondent,
		host:          host,
		port:          port,
		timeout:       timeout,
		registry:      registry,
		inbox:         NewInbox(capacity),
	}
	registry.Bind(correspondent, c.inbox)

	logger.Info("chat created", map[string]any{
		"local":         local,
		"correspondent": correspondent,
		"address":       address,
	})
	return c, nil
}

func (c *Chat) Correspondent() string { return c.correspondent }

func (c *Chat) Address() string { return protocol.JoinAddress(c.host, c.port) }

func (c *Chat) Inbox() *Inbox { return c.inbox }

// Send pushes message into the correspondent's inbox, resolving the handle
// on first use. Failures are returned, never retried.
func (c *Chat) Send(ctx context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.outbound == nil {
		remote, err := Resolve(ctx, c.Address(), c.local, c.timeout)
		if err != nil {
			logger.Warn("chat resolve failed", map[string]any{
				"local":         c.local,
				"correspondent": c.correspondent,
				"error":         err,
			})
			return err
		}
		c.outbound = remote
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.outbound.Push(ctx, message); err != nil {
		logger.Warn("chat send failed", map[string]any{
			"local":         c.local,
			"correspondent": c.correspondent,
			"error":         err,
		})
		c.outbound.Close()
		c.outbound = nil
		return err
	}
	return nil
}

// Read pops one received message.
func (c *Chat) Read() (string, bool) {
	return c.inbox.Pop()
}

// Pending reports whether a received message is waiting.
func (c *Chat) Pending() bool {
	_, ok := c.inbox.Get()
	return ok
}

// Drain returns every waiting message in arrival order.
func (c *Chat) Drain() []string {
	var out []string
	for c.Pending() {
		msg, ok := c.Read()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

// Receive blocks until a message arrives or ctx ends.
func (c *Chat) Receive(ctx context.Context) (string, error) {
	for {
		if err := c.inbox.Wait(ctx); err != nil {
			return "", err
		}
		if msg, ok := c.inbox.Pop(); ok {
			return msg, nil
		}
	}
}

// Close unbinds the local inbox and drops the outbound handle.
func (c *Chat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.registry.Unbind(c.correspondent, c.inbox)
	if c.outbound != nil {
		c.outbound.Close()
		c.outbound = nil
	}
	return nil
}
