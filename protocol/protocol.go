// Package protocol defines the net/rpc contracts shared by the directory,
// the notification endpoints and the peer inbox hosts.
package protocol

// Service names registered on rpc.Server instances.
const (
	DirectoryService = "Directory"
	NotifyService    = "Notify"
	InboxService     = "Inbox"
)

// Directory methods, client -> service.
const (
	MethodRegister           = DirectoryService + ".Register"
	MethodLogin              = DirectoryService + ".Login"
	MethodLogout             = DirectoryService + ".Logout"
	MethodRequestFriendship  = DirectoryService + ".RequestFriendship"
	MethodPendingRequests    = DirectoryService + ".PendingRequests"
	MethodAcceptRequest      = DirectoryService + ".AcceptFriendRequest"
	MethodRejectRequest      = DirectoryService + ".RejectFriendRequest"
	MethodFriends            = DirectoryService + ".Friends"
	MethodOnlineFriends      = DirectoryService + ".OnlineFriends"
	MethodResolveAddress     = DirectoryService + ".ResolveAddress"
	MethodUserExists         = DirectoryService + ".UserExists"
	MethodRegisterEndpoint   = DirectoryService + ".RegisterNotificationEndpoint"
	MethodUnregisterEndpoint = DirectoryService + ".UnregisterNotificationEndpoint"
)

// Notification methods, service -> client.
const (
	MethodPeerConnected         = NotifyService + ".PeerConnected"
	MethodPeerDisconnected      = NotifyService + ".PeerDisconnected"
	MethodFriendRequestReceived = NotifyService + ".FriendRequestReceived"
	MethodFriendshipAccepted    = NotifyService + ".FriendshipAccepted"
)

// Inbox methods, client <-> client.
const (
	MethodHandshake = InboxService + ".Handshake"
	MethodPush      = InboxService + ".Push"
	MethodPop       = InboxService + ".Pop"
	MethodGet       = InboxService + ".Get"
)

type CredentialsArgs struct {
	Username     string
	PasswordHash string
	Address      string // login only
}

type UserArgs struct {
	Username string
}

// PairArgs names two users. For a friend request User is the requester and
// Other the target; for accept/reject User is the target and Other the requester.
type PairArgs struct {
	User  string
	Other string
}

type EndpointArgs struct {
	Username string
	Handle   string
}

type BoolReply struct {
	OK bool
}

type ListReply struct {
	Usernames []string
}

type AddressReply struct {
	Address string
	Found   bool
}

type PeerConnectedArgs struct {
	Username string
	Address  string
}

// InboxArgs addresses the inbox bound under Name. ChannelID is the value
// Handshake returned; it is empty for Handshake itself.
type InboxArgs struct {
	Name      string
	ChannelID string
	Message   string
}

type HandshakeReply struct {
	Ready     bool
	ChannelID string
}

type MessageReply struct {
	Message string
	Found   bool
}
