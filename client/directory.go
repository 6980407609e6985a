package client

import (
	"context"
	"net/rpc"
	"time"

	"peerchat/protocol"
)

// DirectoryClient is a typed, context-aware client for the Directory service.
// A false result is the directory's answer; an error is a transport failure.
type DirectoryClient struct {
	client  *rpc.Client
	timeout time.Duration
}

func DialDirectory(ctx context.Context, addr string, timeout time.Duration) (*DirectoryClient, error) {
	client, err := protocol.Dial(ctx, addr, timeout)
	if err != nil {
		return nil, err
	}
	return &DirectoryClient{client: client, timeout: timeout}, nil
}

func (d *DirectoryClient) call(ctx context.Context, method string, args, reply any) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return protocol.Call(ctx, d.client, method, args, reply)
}

func (d *DirectoryClient) callOK(ctx context.Context, method string, args any) (bool, error) {
	var reply protocol.BoolReply
	if err := d.call(ctx, method, args, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (d *DirectoryClient) callList(ctx context.Context, method, user string) ([]string, error) {
	var reply protocol.ListReply
	if err := d.call(ctx, method, protocol.UserArgs{Username: user}, &reply); err != nil {
		return nil, err
	}
	return reply.Usernames, nil
}

func (d *DirectoryClient) Register(ctx context.Context, user, digest string) (bool, error) {
	return d.callOK(ctx, protocol.MethodRegister, protocol.CredentialsArgs{Username: user, PasswordHash: digest})
}

func (d *DirectoryClient) Login(ctx context.Context, user, digest, address string) (bool, error) {
	return d.callOK(ctx, protocol.MethodLogin, protocol.CredentialsArgs{
		Username:     user,
		PasswordHash: digest,
		Address:      address,
	})
}

func (d *DirectoryClient) Logout(ctx context.Context, user string) error {
	_, err := d.callOK(ctx, protocol.MethodLogout, protocol.UserArgs{Username: user})
	return err
}

func (d *DirectoryClient) RequestFriendship(ctx context.Context, from, to string) (bool, error) {
	return d.callOK(ctx, protocol.MethodRequestFriendship, protocol.PairArgs{User: from, Other: to})
}

func (d *DirectoryClient) PendingRequests(ctx context.Context, user string) ([]string, error) {
	return d.callList(ctx, protocol.MethodPendingRequests, user)
}

func (d *DirectoryClient) AcceptFriendRequest(ctx context.Context, user, requester string) (bool, error) {
	return d.callOK(ctx, protocol.MethodAcceptRequest, protocol.PairArgs{User: user, Other: requester})
}

func (d *DirectoryClient) RejectFriendRequest(ctx context.Context, user, requester string) (bool, error) {
	return d.callOK(ctx, protocol.MethodRejectRequest, protocol.PairArgs{User: user, Other: requester})
}

func (d *DirectoryClient) Friends(ctx context.Context, user string) ([]string, error) {
	return d.callList(ctx, protocol.MethodFriends, user)
}

func (d *DirectoryClient) OnlineFriends(ctx context.Context, user string) ([]string, error) {
	return d.callList(ctx, protocol.MethodOnlineFriends, user)
}

// ResolveAddress returns the user's address and whether the user is online.
func (d *DirectoryClient) ResolveAddress(ctx context.Context, user string) (string, bool, error) {
	var reply protocol.AddressReply
	if err := d.call(ctx, protocol.MethodResolveAddress, protocol.UserArgs{Username: user}, &reply); err != nil {
		return "", false, err
	}
	return reply.Address, reply.Found, nil
}

func (d *DirectoryClient) UserExists(ctx context.Context, user string) (bool, error) {
	return d.callOK(ctx, protocol.MethodUserExists, protocol.UserArgs{Username: user})
}

func (d *DirectoryClient) RegisterEndpoint(ctx context.Context, user, handle string) (bool, error) {
	return d.callOK(ctx, protocol.MethodRegisterEndpoint, protocol.EndpointArgs{Username: user, Handle: handle})
}

func (d *DirectoryClient) UnregisterEndpoint(ctx context.Context, user string) error {
	_, err := d.callOK(ctx, protocol.MethodUnregisterEndpoint, protocol.UserArgs{Username: user})
	return err
}

func (d *DirectoryClient) Close() error {
	return d.client.Close()
}
