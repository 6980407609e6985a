package peer

import (
	"fmt"

	"peerchat/logger"
	"peerchat/protocol"
)

// Service exposes a Registry as the Inbox rpc service.
type Service struct {
	registry *Registry
}

func NewService(registry *Registry) *Service {
	return &Service{registry: registry}
}

// Handshake tells a sender whether an inbox is bound under its name yet.
func (s *Service) Handshake(args protocol.InboxArgs, reply *protocol.HandshakeReply) error {
	_, id, ok := s.registry.Lookup(args.Name)
	reply.Ready = ok
	reply.ChannelID = id
	return nil
}

func (s *Service) Push(args protocol.InboxArgs, reply *protocol.MessageReply) error {
	inbox, err := s.lookup(args)
	if err != nil {
		return err
	}
	reply.Message = inbox.Push(args.Message)
	reply.Found = true
	logger.Debug("inbox push", map[string]any{"name": args.Name, "len": inbox.Len()})
	return nil
}

func (s *Service) Pop(args protocol.InboxArgs, reply *protocol.MessageReply) error {
	inbox, err := s.lookup(args)
	if err != nil {
		return err
	}
	reply.Message, reply.Found = inbox.Pop()
	return nil
}

func (s *Service) Get(args protocol.InboxArgs, reply *protocol.MessageReply) error {
	inbox, err := s.lookup(args)
	if err != nil {
		return err
	}
	reply.Message, reply.Found = inbox.Get()
	return nil
}

// lookup resolves the inbox a sender handshook with. A channel ID from an
// earlier binding means the chat was re-created and the sender must
// handshake again.
func (s *Service) lookup(args protocol.InboxArgs) (*Inbox, error) {
	inbox, id, ok := s.registry.Lookup(args.Name)
	if !ok {
		return nil, fmt.Errorf("inbox %q not bound", args.Name)
	}
	if args.ChannelID != id {
		return nil, fmt.Errorf("inbox %q rebound, channel %s is stale", args.Name, args.ChannelID)
	}
	return inbox, nil
}
