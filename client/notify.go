package client

import (
	"peerchat/models"
	"peerchat/protocol"
)

// NotifyService is the endpoint the directory pushes events to. Each method
// hands the event to the session and acknowledges.
type NotifyService struct {
	session *Session
}

func (n *NotifyService) PeerConnected(args protocol.PeerConnectedArgs, reply *protocol.BoolReply) error {
	n.session.handleEvent(models.Event{
		Kind:     models.EventPeerConnected,
		Username: args.Username,
		Address:  args.Address,
	})
	reply.OK = true
	return nil
}

func (n *NotifyService) PeerDisconnected(args protocol.UserArgs, reply *protocol.BoolReply) error {
	n.session.handleEvent(models.Event{Kind: models.EventPeerDisconnected, Username: args.Username})
	reply.OK = true
	return nil
}

func (n *NotifyService) FriendRequestReceived(args protocol.UserArgs, reply *protocol.BoolReply) error {
	n.session.handleEvent(models.Event{Kind: models.EventFriendRequestReceived, Username: args.Username})
	reply.OK = true
	return nil
}

func (n *NotifyService) FriendshipAccepted(args protocol.UserArgs, reply *protocol.BoolReply) error {
	n.session.handleEvent(models.Event{Kind: models.EventFriendshipAccepted, Username: args.Username})
	reply.OK = true
	return nil
}
