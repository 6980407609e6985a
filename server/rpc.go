package server

import "peerchat/protocol"

// DirectoryService adapts Directory to net/rpc. Boolean outcomes travel in
// the reply; errors are reserved for the transport.
type DirectoryService struct {
	dir *Directory
}

func NewDirectoryService(dir *Directory) *DirectoryService {
	return &DirectoryService{dir: dir}
}

func (s *DirectoryService) Register(args protocol.CredentialsArgs, reply *protocol.BoolReply) error {
	reply.OK = s.dir.Register(args.Username, args.PasswordHash)
	return nil
}

func (s *DirectoryService) Login(args protocol.CredentialsArgs, reply *protocol.BoolReply) error {
	reply.OK = s.dir.Login(args.Username, args.PasswordHash, args.Address)
	return nil
}

func (s *DirectoryService) Logout(args protocol.UserArgs, reply *protocol.BoolReply) error {
	s.dir.Logout(args.Username)
	reply.OK = true
	return nil
}

func (s *DirectoryService) RequestFriendship(args protocol.PairArgs, reply *protocol.BoolReply) error {
	reply.OK = s.dir.RequestFriendship(args.User, args.Other)
	return nil
}

func (s *DirectoryService) PendingRequests(args protocol.UserArgs, reply *protocol.ListReply) error {
	reply.Usernames = s.dir.PendingRequests(args.Username)
	return nil
}

func (s *DirectoryService) AcceptFriendRequest(args protocol.PairArgs, reply *protocol.BoolReply) error {
	reply.OK = s.dir.AcceptFriendRequest(args.User, args.Other)
	return nil
}

func (s *DirectoryService) RejectFriendRequest(args protocol.PairArgs, reply *protocol.BoolReply) error {
	reply.OK = s.dir.RejectFriendRequest(args.User, args.Other)
	return nil
}

func (s *DirectoryService) Friends(args protocol.UserArgs, reply *protocol.ListReply) error {
	reply.Usernames = s.dir.Friends(args.Username)
	return nil
}

func (s *DirectoryService) OnlineFriends(args protocol.UserArgs, reply *protocol.ListReply) error {
	reply.Usernames = s.dir.OnlineFriends(args.Username)
	return nil
}

func (s *DirectoryService) ResolveAddress(args protocol.UserArgs, reply *protocol.AddressReply) error {
	reply.Address, reply.Found = s.dir.ResolveAddress(args.Username)
	return nil
}

func (s *DirectoryService) UserExists(args protocol.UserArgs, reply *protocol.BoolReply) error {
	reply.OK = s.dir.UserExists(args.Username)
	return nil
}

func (s *DirectoryService) RegisterNotificationEndpoint(args protocol.EndpointArgs, reply *protocol.BoolReply) error {
	reply.OK = s.dir.RegisterEndpoint(args.Username, args.Handle)
	return nil
}

func (s *DirectoryService) UnregisterNotificationEndpoint(args protocol.UserArgs, reply *protocol.BoolReply) error {
	s.dir.UnregisterEndpoint(args.Username)
	reply.OK = true
	return nil
}
