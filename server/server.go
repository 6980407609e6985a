package server

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"sync"
	"time"

	"peerchat/credentials"
	"peerchat/db"
	"peerchat/logger"
	"peerchat/protocol"
)

type Server struct {
	dir        *Directory
	dispatcher *Dispatcher
	sender     *RPCSender
	config     *ServerConfig
	rpc        *rpc.Server

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

type ServerConfig struct {
	ListenAddr    string
	BcryptCost    int
	CallTimeout   time.Duration
	PushQueueSize int
	PushRetries   int
	PushBackoff   time.Duration
}

// New loads the directory from store and wires the push dispatcher to it.
func New(ctx context.Context, store db.Store, config *ServerConfig) (*Server, error) {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}

	sender := NewRPCSender(config.CallTimeout)
	dispatcher := NewDispatcher(sender, DispatcherConfig{
		QueueSize: config.PushQueueSize,
		Retries:   config.PushRetries,
		Backoff:   config.PushBackoff,
		Timeout:   config.CallTimeout,
	})

	dir, err := NewDirectory(ctx, store, credentials.Hasher{Cost: config.BcryptCost}, dispatcher)
	if err != nil {
		return nil, err
	}
	dispatcher.OnUnreachable(dir.MarkUnreachable)

	srv := rpc.NewServer()
	if err := srv.RegisterName(protocol.DirectoryService, NewDirectoryService(dir)); err != nil {
		return nil, err
	}

	return &Server{
		dir:        dir,
		dispatcher: dispatcher,
		sender:     sender,
		config:     config,
		rpc:        srv,
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Directory() *Directory {
	return s.dir
}

// Listen binds the configured address. Serve must follow.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("directory listening", map[string]any{"addr": listener.Addr().String()})
	return nil
}

// Addr is the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("accept failed", map[string]any{"error": err})
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	remoteAddr := conn.RemoteAddr().String()
	logger.Debug("client connected", map[string]any{"remote": remoteAddr})

	s.rpc.ServeConn(conn)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	logger.Debug("client disconnected", map[string]any{"remote": remoteAddr})
}

// Shutdown stops accepting, closes client connections and the push workers.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.dispatcher.Close()
	s.sender.Close()
	logger.Info("directory stopped", nil)
}

// GetStats returns directory counters plus live push queues.
func (s *Server) GetStats() ServerStats {
	return ServerStats{
		Stats:      s.dir.Stats(),
		PushQueues: s.dispatcher.Queues(),
	}
}

type ServerStats struct {
	Stats
	PushQueues int `json:"push_queues"`
}
