package peer

import (
	"errors"
	"net"
	"net/rpc"
	"sync"

	"peerchat/logger"
	"peerchat/protocol"
)

// Host is the rpc listener a client process exposes to its peers and to the
// directory. It always serves the Inbox service; other services (Notify)
// are added with RegisterName before Start.
type Host struct {
	registry *Registry
	rpc      *rpc.Server
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewHost(registry *Registry) (*Host, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(protocol.InboxService, NewService(registry)); err != nil {
		return nil, err
	}
	return &Host{
		registry: registry,
		rpc:      srv,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (h *Host) Registry() *Registry {
	return h.registry
}

func (h *Host) RegisterName(name string, rcvr any) error {
	return h.rpc.RegisterName(name, rcvr)
}

// Start listens on addr ("host:0" picks a free port) and serves in the background.
func (h *Host) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.listener = listener

	h.wg.Add(1)
	go h.acceptLoop()

	logger.Info("peer host listening", map[string]any{"addr": listener.Addr().String()})
	return nil
}

// Port is the bound port, valid after Start.
func (h *Host) Port() int {
	return h.listener.Addr().(*net.TCPAddr).Port
}

func (h *Host) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("peer host accept failed", map[string]any{"error": err})
			continue
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.conns[conn] = struct{}{}
		h.mu.Unlock()

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.rpc.ServeConn(conn)
			h.mu.Lock()
			delete(h.conns, conn)
			h.mu.Unlock()
		}()
	}
}

// Close stops accepting and drops every open connection.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for conn := range h.conns {
		conn.Close()
	}
	h.mu.Unlock()

	var err error
	if h.listener != nil {
		err = h.listener.Close()
	}
	h.wg.Wait()
	return err
}
